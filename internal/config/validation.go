package config

import (
	"net/url"
	"strings"
	"time"
)

// Validate checks cfg and returns a *ConfigurationErrorCollection listing
// every problem, or nil.
func (c Config) Validate() error {
	errs := &ConfigurationErrorCollection{}

	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs.AddField("api.baseURL", "is required", "set "+EnvAPIURL+" or api.baseURL in config.yaml")
	} else if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs.AddField("api.baseURL", "must be an absolute http or https URL", "for example https://api.allin.example/api/")
	}
	validatePositive(errs, "api.timeout", c.API.Timeout)

	validateOneOf(errs, "storage.backend", c.Storage.Backend, []string{BackendFile, BackendRedis, BackendMemory})
	if c.Storage.Backend == BackendRedis && strings.TrimSpace(c.Storage.Redis.Addr) == "" {
		errs.AddField("storage.redis.addr", "is required for the redis backend", "set "+EnvRedisAddr)
	}
	if c.Storage.Redis.DB < 0 {
		errs.AddField("storage.redis.db", "must not be negative")
	}

	validatePositive(errs, "session.readinessTimeout", c.Session.ReadinessTimeout)
	validatePositive(errs, "session.permissionTTL", c.Session.PermissionTTL)
	validateOneOf(errs, "session.refresh.policy", c.Session.Refresh.Policy, []string{RefreshPolicyInterval, RefreshPolicyLookahead})
	validatePositive(errs, "session.refresh.interval", c.Session.Refresh.Interval)
	if c.Session.Refresh.Leeway < 0 {
		errs.AddField("session.refresh.leeway", "must not be negative")
	}

	for _, route := range []struct{ field, path string }{
		{"routes.signIn", c.Routes.SignIn},
		{"routes.register", c.Routes.Register},
		{"routes.onboarding", c.Routes.Onboarding},
		{"routes.home", c.Routes.Home},
	} {
		if !strings.HasPrefix(route.path, "/") {
			errs.AddField(route.field, "must be an absolute path starting with /")
		}
	}
	if c.Routes.SignIn == c.Routes.Onboarding {
		errs.AddField("routes.onboarding", "must differ from routes.signIn")
	}

	validateOneOf(errs, "logging.level", strings.ToLower(c.Logging.Level), []string{"debug", "info", "warn", "warning", "error"})
	if c.Logging.Format != "" {
		validateOneOf(errs, "logging.format", c.Logging.Format, []string{"text", "json"})
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateOneOf(errs *ConfigurationErrorCollection, field, value string, allowed []string) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	errs.AddField(field, "must be one of: "+strings.Join(allowed, ", "))
}

func validatePositive(errs *ConfigurationErrorCollection, field string, d time.Duration) {
	if d <= 0 {
		errs.AddField(field, "must be a positive duration")
	}
}
