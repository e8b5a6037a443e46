package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"allin/internal/api"
	"allin/internal/config"
	"allin/internal/credential"
	"allin/internal/guard"
	"allin/internal/metrics"
	"allin/internal/permission"
	"allin/internal/session"
	"allin/internal/storage"
	"allin/pkg/logging"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// runtime is the wiring shared by every command: configuration, stores,
// backend client, session and route guard.
type runtime struct {
	cfg     config.Config
	durable storage.Store
	client  *api.Client
	session *session.Session
	guard   *guard.Guard
	metrics *metrics.Metrics
	closers []func() error
}

// newRuntime loads the configuration, opens the stores and starts the
// session. It returns once the session is ready for guards.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.API.BaseURL = apiURL
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	initLogging(cfg.Logging, os.Stderr)

	rt := &runtime{cfg: cfg, metrics: metrics.New(prometheus.NewRegistry())}
	cookie, err := rt.openStores()
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	creds := credential.NewStore(rt.durable, cookie)
	perms := permission.NewCache(rt.durable, clock)

	rt.client, err = api.NewClient(api.ClientConfig{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		Tokens:    creds,
		UserAgent: "allin-cli/" + GetVersion(),
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.session = session.New(creds, perms, rt.client,
		session.WithClock(clock),
		session.WithMetrics(rt.metrics),
		session.WithReadinessTimeout(cfg.Session.ReadinessTimeout),
		session.WithPermissionTTL(cfg.Session.PermissionTTL),
		session.WithRefresh(session.RefreshConfig{
			Policy:   session.RefreshPolicy(cfg.Session.Refresh.Policy),
			Interval: cfg.Session.Refresh.Interval,
			Leeway:   cfg.Session.Refresh.Leeway,
		}),
	)
	rt.closers = append([]func() error{rt.session.Close}, rt.closers...)

	rt.guard = guard.New(rt.session.Auth(), rt.session.Readiness(), guard.Config{
		SignInPath:     cfg.Routes.SignIn,
		OnboardingPath: cfg.Routes.Onboarding,
		HomePath:       cfg.Routes.Home,
		PublicPaths:    cfg.Routes.Public,
		GuestOnlyPaths: guestOnly(cfg.Routes),
		Timeout:        cfg.Session.ReadinessTimeout,
	})

	rt.session.Start()
	waitCtx, cancel := context.WithTimeout(ctx, rt.session.ReadinessTimeout())
	defer cancel()
	rt.session.Readiness().Wait(waitCtx)

	logging.Debug("CLI", "session ready in state %s", rt.session.State())
	return rt, nil
}

// openStores builds the durable store for the configured backend and the
// cookie store. The memory backend keeps both in process.
func (rt *runtime) openStores() (storage.Store, error) {
	sc := rt.cfg.Storage
	switch sc.Backend {
	case config.BackendMemory:
		rt.durable = storage.NewMemoryStore()
		return storage.NewMemoryStore(), nil
	case config.BackendRedis:
		rs, err := storage.NewRedisStore(storage.RedisConfig{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open redis store: %w", err)
		}
		rt.durable = rs
		rt.closers = append(rt.closers, rs.Close)
	default:
		fs, err := storage.NewFileStore(sc.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open session directory: %w", err)
		}
		rt.durable = fs
	}

	cookie, err := storage.NewCookieStore(sc.CookieFile, sc.CookieDomain)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open cookie jar: %w", err)
	}
	return cookie, nil
}

// Close stops the session and releases the stores.
func (rt *runtime) Close() error {
	var errs []error
	for _, c := range rt.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func guestOnly(routes config.RoutesConfig) []string {
	if routes.GuestOnly != nil {
		return routes.GuestOnly
	}
	if routes.Register != "" {
		return []string{routes.Register}
	}
	return nil
}

func initLogging(cfg config.LoggingConfig, w io.Writer) {
	level := logging.ParseLevel(cfg.Level)
	if cfg.Format == "json" {
		logging.InitForJSON(level, w)
		return
	}
	logging.InitForCLI(level, w)
}

// withRuntime runs fn against a fresh runtime and closes it afterwards.
func withRuntime(ctx context.Context, fn func(rt *runtime) error) error {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}
