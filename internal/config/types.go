package config

import "time"

// Config is the top-level configuration structure for allin.
type Config struct {
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
	Routes  RoutesConfig  `yaml:"routes"`
	Logging LoggingConfig `yaml:"logging"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Refresh policies, mirrored from the session package.
const (
	RefreshPolicyInterval  = "interval"
	RefreshPolicyLookahead = "lookahead"
)

// APIConfig configures the backend client.
type APIConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// StorageConfig selects where credentials and permissions are persisted.
type StorageConfig struct {
	Backend      string      `yaml:"backend"`                // file, redis or memory (default: file)
	Dir          string      `yaml:"dir,omitempty"`          // Durable file store directory
	CookieFile   string      `yaml:"cookieFile,omitempty"`   // Cookie jar path
	CookieDomain string      `yaml:"cookieDomain,omitempty"` // Domain recorded on jar entries
	Redis        RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the shared Redis durable store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// SessionConfig tunes the bootstrap and the caches.
type SessionConfig struct {
	ReadinessTimeout time.Duration `yaml:"readinessTimeout,omitempty"`
	PermissionTTL    time.Duration `yaml:"permissionTTL,omitempty"`
	Refresh          RefreshConfig `yaml:"refresh"`
}

// RefreshConfig configures the token refresher.
type RefreshConfig struct {
	Policy   string        `yaml:"policy"`
	Interval time.Duration `yaml:"interval,omitempty"`
	Leeway   time.Duration `yaml:"leeway,omitempty"`
}

// RoutesConfig describes the route layout enforced by the guards.
type RoutesConfig struct {
	SignIn     string   `yaml:"signIn"`
	Register   string   `yaml:"register"`
	Onboarding string   `yaml:"onboarding"`
	Home       string   `yaml:"home"`
	Public     []string `yaml:"public,omitempty"`
	GuestOnly  []string `yaml:"guestOnly,omitempty"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format,omitempty"`
}
