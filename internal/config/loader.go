package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"allin/pkg/logging"
)

const (
	userConfigDir  = ".config/allin"
	configFileName = "config.yaml"
	dotEnvFileName = ".env"
)

// Environment variables applied over the file configuration.
const (
	EnvAPIURL         = "ALLIN_API_URL"
	EnvStorageBackend = "ALLIN_STORAGE_BACKEND"
	EnvStorageDir     = "ALLIN_STORAGE_DIR"
	EnvRedisAddr      = "ALLIN_REDIS_ADDR"
	EnvRedisPassword  = "ALLIN_REDIS_PASSWORD"
	EnvLogLevel       = "ALLIN_LOG_LEVEL"
	EnvRefreshPolicy  = "ALLIN_REFRESH_POLICY"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// DefaultConfigDir returns ~/.config/allin, or ".allin" when the home
// directory cannot be determined.
func DefaultConfigDir() string {
	homeDir, err := osUserHomeDir()
	if err != nil {
		logging.Warn("ConfigLoader", "could not determine home directory, using ./.allin: %v", err)
		return ".allin"
	}
	return filepath.Join(homeDir, userConfigDir)
}

// Load reads config.yaml from configDir over the defaults, applies the .env
// files and ALLIN_* environment variables, resolves storage paths relative
// to configDir and validates the result.
func Load(configDir string) (Config, error) {
	cfg := Default()

	configFilePath := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, NewConfigurationError(configFilePath, "", ErrorTypeIO, err.Error())
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, NewConfigurationErrorWithDetails(configFilePath, "", ErrorTypeParse,
				"malformed YAML", err.Error(), []string{"check indentation and duration values such as 3s or 2h"})
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	loadDotEnv(filepath.Join(configDir, dotEnvFileName), dotEnvFileName)
	applyEnv(&cfg)
	cfg.resolvePaths(configDir)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv loads each existing file into the process environment without
// overriding variables that are already set.
func loadDotEnv(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			logging.Warn("ConfigLoader", "ignoring unreadable %s: %v", path, err)
			continue
		}
		logging.Debug("ConfigLoader", "Loaded environment from %s", path)
	}
}

func applyEnv(cfg *Config) {
	set := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvAPIURL, &cfg.API.BaseURL)
	set(EnvStorageBackend, &cfg.Storage.Backend)
	set(EnvStorageDir, &cfg.Storage.Dir)
	set(EnvRedisAddr, &cfg.Storage.Redis.Addr)
	set(EnvRedisPassword, &cfg.Storage.Redis.Password)
	set(EnvLogLevel, &cfg.Logging.Level)
	set(EnvRefreshPolicy, &cfg.Session.Refresh.Policy)
}

func (c *Config) resolvePaths(configDir string) {
	if c.Storage.Dir == "" {
		c.Storage.Dir = filepath.Join(configDir, defaultSessionDir)
	}
	if c.Storage.CookieFile == "" {
		c.Storage.CookieFile = filepath.Join(c.Storage.Dir, defaultCookieFile)
	}
}
