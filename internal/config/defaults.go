package config

import "time"

const (
	// DefaultAPIBaseURL matches a locally running ALL-IN backend.
	DefaultAPIBaseURL = "http://localhost:8080/api/"

	// DefaultRedisPrefix namespaces allin keys in a shared Redis.
	DefaultRedisPrefix = "allin:"

	defaultSessionDir = "session"
	defaultCookieFile = "cookies.txt"
)

// Default returns the default configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: DefaultAPIBaseURL,
			Timeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: BackendFile,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: DefaultRedisPrefix,
			},
		},
		Session: SessionConfig{
			ReadinessTimeout: 3 * time.Second,
			PermissionTTL:    2 * time.Hour,
			Refresh: RefreshConfig{
				Policy:   RefreshPolicyInterval,
				Interval: 6 * time.Hour,
				Leeway:   5 * time.Minute,
			},
		},
		Routes: RoutesConfig{
			SignIn:     "/login",
			Register:   "/register",
			Onboarding: "/onboarding",
			Home:       "/",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
