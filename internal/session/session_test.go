package session_test

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allin/internal/api"
	"allin/internal/api/apitest"
	"allin/internal/authstate"
	"allin/internal/credential"
	"allin/internal/guard"
	"allin/internal/metrics"
	"allin/internal/permission"
	"allin/internal/session"
	"allin/internal/storage"
)

const (
	email    = "ada@example.com"
	password = "correct-horse"

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntilContext(ctx context.Context, n int) error
}

// gatedBackend wraps a backend so tests can hold a call's result after the
// server answered.
type gatedBackend struct {
	session.Backend

	mu    sync.Mutex
	gates map[string]chan struct{}
}

func (g *gatedBackend) hold(op string) (release func()) {
	ch := make(chan struct{})
	g.mu.Lock()
	if g.gates == nil {
		g.gates = make(map[string]chan struct{})
	}
	g.gates[op] = ch
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (g *gatedBackend) wait(op string) {
	g.mu.Lock()
	ch := g.gates[op]
	g.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

func (g *gatedBackend) Profile(ctx context.Context) (*credential.UserProfile, error) {
	p, err := g.Backend.Profile(ctx)
	g.wait("profile")
	return p, err
}

func (g *gatedBackend) Refresh(ctx context.Context) (string, error) {
	tok, err := g.Backend.Refresh(ctx)
	g.wait("refresh")
	return tok, err
}

type fixture struct {
	srv     *apitest.Server
	durable *storage.MemoryStore
	cookie  *storage.MemoryStore
	creds   *credential.Store
	perms   *permission.Cache
	clock   fakeClock
	metrics *metrics.Metrics
	backend *gatedBackend
	sess    *session.Session
	guard   *guard.Guard
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		srv:     apitest.New(),
		durable: storage.NewMemoryStore(),
		cookie:  storage.NewMemoryStore(),
		clock:   clockwork.NewFakeClockAt(t0),
		metrics: metrics.New(nil),
	}
	t.Cleanup(f.srv.Close)

	f.creds = credential.NewStore(f.durable, f.cookie)
	f.perms = permission.NewCache(f.durable, f.clock)

	client, err := api.NewClient(api.ClientConfig{BaseURL: f.srv.BaseURL(), Tokens: f.creds, Timeout: waitFor})
	require.NoError(t, err)
	f.backend = &gatedBackend{Backend: client}

	opts = append([]session.Option{
		session.WithClock(f.clock),
		session.WithMetrics(f.metrics),
	}, opts...)
	f.sess = session.New(f.creds, f.perms, f.backend, opts...)
	t.Cleanup(func() { _ = f.sess.Close() })

	f.guard = guard.New(f.sess.Auth(), f.sess.Readiness(), guard.Config{Timeout: waitFor})
	return f
}

func completeProfile() credential.UserProfile {
	return credential.UserProfile{
		Username:    "ada",
		Email:       email,
		Phone:       "+31 20 555 0100",
		DateOfBirth: "1990-12-10",
		Region:      "Amsterdam-Oost",
		Role:        "player",
	}
}

// seed creates the account on the server and stores a valid credential
// locally, as a previous run would have.
func (f *fixture) seed(t *testing.T, server, stored credential.UserProfile) string {
	t.Helper()
	created := f.srv.AddUser(server, password, "games:play")
	stored.ID = created.ID
	token := f.srv.IssueToken(email)
	require.NoError(t, f.creds.Write(&credential.IdentitySnapshot{User: stored, BearerToken: token}))
	return token
}

func (f *fixture) confirmations(outcome string) float64 {
	return testutil.ToFloat64(f.metrics.ConfirmationsTotal.WithLabelValues(outcome))
}

func (f *fixture) evaluate(t *testing.T, target string) guard.Decision {
	t.Helper()
	d, ok := f.guard.Evaluate(target)
	require.True(t, ok, "guard must be determinable for %s", target)
	return d
}

func TestScenarioA_NoCredential(t *testing.T) {
	f := newFixture(t)

	f.sess.Start()

	assert.Equal(t, authstate.StateUnauthenticated, f.sess.State())
	assert.True(t, f.sess.Readiness().Resolved())
	d := f.evaluate(t, "/games")
	assert.Equal(t, guard.Redirect, d.Action)
	assert.Equal(t, "/login?returnUrl=%2Fgames", d.URL())
	assert.Equal(t, 0, f.srv.Calls(api.PathProfile), "no confirmation without credential")
}

func TestScenarioB_CompleteProfileIsOptimistic(t *testing.T) {
	f := newFixture(t)
	f.seed(t, completeProfile(), completeProfile())
	release := f.backend.hold("profile")

	f.sess.Start()

	assert.Equal(t, authstate.StateAuthenticated, f.sess.State())
	assert.True(t, f.sess.Readiness().Resolved())
	assert.True(t, f.evaluate(t, "/games").Allowed(), "admitted before confirmation resolves")
	assert.Equal(t, 0.0, f.confirmations(metrics.OutcomeSuccess))

	release()
	require.Eventually(t, func() bool { return f.confirmations(metrics.OutcomeSuccess) == 1 }, waitFor, tick)
	assert.Equal(t, authstate.StateAuthenticated, f.sess.State())
	assert.True(t, f.sess.RefreshScheduled())
}

func TestScenarioC_MissingPhoneNeedsOnboarding(t *testing.T) {
	f := newFixture(t)
	p := completeProfile()
	p.Phone = "  "
	f.seed(t, p, p)
	defer f.backend.hold("profile")()

	f.sess.Start()

	assert.Equal(t, authstate.StateNeedsOnboarding, f.sess.State())
	assert.True(t, f.sess.Auth().NeedsOnboarding())
	assert.Equal(t, "/onboarding", f.evaluate(t, "/games").URL())
	assert.Equal(t, "/onboarding", f.evaluate(t, "/wallet").URL())
	assert.True(t, f.evaluate(t, "/onboarding").Allowed())
}

func TestScenarioD_ConfirmationRejected(t *testing.T) {
	f := newFixture(t)
	token := f.seed(t, completeProfile(), completeProfile())
	f.srv.Revoke(token)
	release := f.backend.hold("profile")

	f.sess.Start()

	assert.Equal(t, authstate.StateAuthenticated, f.sess.State())
	assert.True(t, f.evaluate(t, "/games").Allowed())

	release()
	require.Eventually(t, func() bool { return f.sess.State() == authstate.StateUnauthenticated }, waitFor, tick)

	_, ok := f.creds.Read()
	assert.False(t, ok, "credential store cleared")
	assert.Equal(t, 0, f.durable.Len())
	assert.Equal(t, 0, f.cookie.Len())
	assert.Equal(t, "/login?returnUrl=%2Fgames", f.evaluate(t, "/games").URL())
	assert.False(t, f.sess.RefreshScheduled())
	assert.Equal(t, 1.0, f.confirmations(metrics.OutcomeAuthFailure))
}

func TestScenarioE_LogoutWinsOverLateConfirmation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, completeProfile(), completeProfile())
	release := f.backend.hold("profile")

	f.sess.Start()
	require.Eventually(t, func() bool { return f.srv.Calls(api.PathProfile) == 1 }, waitFor, tick)

	require.NoError(t, f.sess.Logout(context.Background()))
	assert.Equal(t, authstate.StateUnauthenticated, f.sess.State())

	release()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.RaceDiscardsTotal.WithLabelValues("confirm")) == 1
	}, waitFor, tick)

	assert.Equal(t, authstate.StateUnauthenticated, f.sess.State())
	_, ok := f.creds.Read()
	assert.False(t, ok, "late confirmation must not re-store credentials")
	assert.Equal(t, 1.0, f.confirmations(metrics.OutcomeDiscarded))
}

func TestConfirmation_DemotesToOnboarding(t *testing.T) {
	f := newFixture(t)
	server := completeProfile()
	server.Region = ""
	f.seed(t, server, completeProfile())

	f.sess.Start()
	require.Eventually(t, func() bool { return f.sess.State() == authstate.StateNeedsOnboarding }, waitFor, tick)

	stored, ok := f.creds.Read()
	require.True(t, ok)
	assert.Empty(t, stored.User.Region, "authoritative profile overwrites the cached one")

	var from []authstate.State
	for _, tr := range f.sess.Machine().Transitions() {
		from = append(from, tr.From)
	}
	assert.Equal(t, []authstate.State{authstate.StateInitial, authstate.StateAuthenticated}, from)
}

func TestConfirmation_TransientFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.seed(t, completeProfile(), completeProfile())
	f.srv.FailNext(api.PathProfile, 503)

	f.sess.Start()
	require.Eventually(t, func() bool { return f.confirmations(metrics.OutcomeTransient) == 1 }, waitFor, tick)

	assert.Equal(t, authstate.StateAuthenticated, f.sess.State())
	_, ok := f.creds.Read()
	assert.True(t, ok)
}

func corruptProfile(t *testing.T, f *fixture, token string) {
	t.Helper()
	for _, st := range []*storage.MemoryStore{f.durable, f.cookie} {
		require.NoError(t, st.Set(credential.KeyLoggedIn, "true"))
		require.NoError(t, st.Set(credential.KeyUser, url.QueryEscape("{not json")))
		if token != "" {
			require.NoError(t, st.Set(credential.KeyToken, token))
		} else {
			require.NoError(t, st.Delete(credential.KeyToken))
		}
	}
}

func TestBootstrap_UndecodableRecoversFromServer(t *testing.T) {
	f := newFixture(t)
	token := f.seed(t, completeProfile(), completeProfile())
	corruptProfile(t, f, token)
	release := f.backend.hold("profile")

	f.sess.Start()

	assert.Equal(t, authstate.StateLoading, f.sess.State())
	assert.False(t, f.sess.Readiness().Resolved())
	_, ok := f.guard.Evaluate("/games")
	assert.False(t, ok, "not determinable while loading")

	release()
	require.Eventually(t, f.sess.Readiness().Resolved, waitFor, tick)
	assert.Equal(t, authstate.StateAuthenticated, f.sess.State())

	stored, ok := f.creds.Read()
	require.True(t, ok)
	assert.Equal(t, "Amsterdam-Oost", stored.User.Region)
	assert.Equal(t, token, stored.BearerToken)
}

func TestBootstrap_UndecodableWithoutToken(t *testing.T) {
	f := newFixture(t)
	corruptProfile(t, f, "")

	f.sess.Start()

	assert.Equal(t, authstate.StateUnauthenticated, f.sess.State())
	assert.True(t, f.sess.Readiness().Resolved())
	assert.Equal(t, 0, f.durable.Len())

	var to []authstate.State
	for _, tr := range f.sess.Machine().Transitions() {
		to = append(to, tr.To)
	}
	assert.Equal(t, []authstate.State{authstate.StateLoading, authstate.StateUnauthenticated}, to)
}

func TestBootstrap_UndecodableTransientSignsOut(t *testing.T) {
	f := newFixture(t)
	token := f.seed(t, completeProfile(), completeProfile())
	corruptProfile(t, f, token)
	f.srv.FailNext(api.PathProfile, 500)

	f.sess.Start()
	require.Eventually(t, f.sess.Readiness().Resolved, waitFor, tick)

	assert.Equal(t, authstate.StateUnauthenticated, f.sess.State())
	_, ok := f.creds.Read()
	assert.False(t, ok)
}

func TestBootstrap_ReadinessTimeout(t *testing.T) {
	f := newFixture(t, session.WithReadinessTimeout(3*time.Second))
	token := f.seed(t, completeProfile(), completeProfile())
	corruptProfile(t, f, token)
	release := f.backend.hold("profile")

	f.sess.Start()
	require.Equal(t, authstate.StateLoading, f.sess.State())

	f.clock.Advance(3 * time.Second)
	require.Eventually(t, f.sess.Readiness().Resolved, waitFor, tick)
	assert.Equal(t, authstate.StateLoading, f.sess.State(), "timeout does not change state")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ReadinessTimeoutTotal))

	d := f.guard.Admit(context.Background(), "/games")
	assert.Equal(t, guard.Redirect, d.Action, "still loading counts as signed out")

	release()
	require.Eventually(t, func() bool { return f.sess.State() == authstate.StateAuthenticated }, waitFor, tick)
	assert.True(t, f.guard.Admit(context.Background(), "/games").Allowed())
}

func TestStart_RunsOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, completeProfile(), completeProfile())

	f.sess.Start()
	f.sess.Start()
	require.Eventually(t, func() bool { return f.confirmations(metrics.OutcomeSuccess) == 1 }, waitFor, tick)
	assert.Equal(t, 1, f.srv.Calls(api.PathProfile))
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.srv.AddUser(completeProfile(), password)
	f.sess.Start()

	state, err := f.sess.Login(context.Background(), email, "wrong")
	require.Error(t, err)
	assert.True(t, api.IsAuthFailure(err))
	assert.Equal(t, authstate.StateUnauthenticated, state)

	state, err = f.sess.Login(context.Background(), "  "+email+" ", password)
	require.NoError(t, err)
	assert.Equal(t, authstate.StateAuthenticated, state)
	assert.True(t, f.sess.RefreshScheduled())

	for _, st := range []*storage.MemoryStore{f.durable, f.cookie} {
		v, ok, err := st.Get(credential.KeyLoggedIn)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "true", v)
	}
	assert.True(t, f.evaluate(t, "/games").Allowed())
	assert.Equal(t, "/", f.evaluate(t, "/login").URL())
}

func TestRegisterAndCompleteOnboarding(t *testing.T) {
	f := newFixture(t)
	f.sess.Start()
	ctx := context.Background()

	state, err := f.sess.Register(ctx, api.RegisterRequest{Username: "grace", Email: "grace@example.com", Password: "longenough"})
	require.NoError(t, err)
	assert.Equal(t, authstate.StateNeedsOnboarding, state)

	region := "Rotterdam"
	state, err = f.sess.CompleteOnboarding(ctx, api.ProfileUpdate{Region: &region})
	require.ErrorIs(t, err, session.ErrOnboardingIncomplete)
	assert.Contains(t, err.Error(), credential.FieldDateOfBirth)
	assert.Equal(t, authstate.StateNeedsOnboarding, state)

	dob, phone := "1985-05-05", "+31 10 555 0199"
	state, err = f.sess.CompleteOnboarding(ctx, api.ProfileUpdate{DateOfBirth: &dob, Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, authstate.StateAuthenticated, state)

	stored, ok := f.creds.Read()
	require.True(t, ok)
	assert.Equal(t, "Rotterdam", stored.User.Region)
	assert.Equal(t, "/", f.evaluate(t, "/onboarding").URL())
}

func TestCompleteOnboarding_RequiresSignIn(t *testing.T) {
	f := newFixture(t)
	f.sess.Start()

	_, err := f.sess.CompleteOnboarding(context.Background(), api.ProfileUpdate{})
	assert.ErrorIs(t, err, session.ErrNotSignedIn)
	assert.True(t, session.IsAuthRequired(err))
}

func TestUpdateProfile_RejectedSignsOut(t *testing.T) {
	f := newFixture(t)
	token := f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	require.Eventually(t, func() bool { return f.confirmations(metrics.OutcomeSuccess) == 1 }, waitFor, tick)

	f.srv.Revoke(token)
	name := "ada2"
	_, err := f.sess.UpdateProfile(context.Background(), api.ProfileUpdate{Username: &name})
	require.Error(t, err)
	assert.Equal(t, authstate.StateUnauthenticated, f.sess.State())
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	token := f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	require.True(t, f.sess.RefreshScheduled())
	_, err := f.perms.Write([]string{"games:play"}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.sess.Logout(context.Background()))

	assert.Equal(t, authstate.StateUnauthenticated, f.sess.State())
	assert.False(t, f.sess.RefreshScheduled())
	assert.Nil(t, f.sess.Auth().Identity())
	assert.Equal(t, 0, f.durable.Len(), "identity and permissions cleared")
	assert.Equal(t, 0, f.cookie.Len())
	assert.Equal(t, 1, f.srv.Calls(api.PathLogout))

	client, err := api.NewClient(api.ClientConfig{BaseURL: f.srv.BaseURL(), Tokens: staticToken(token)})
	require.NoError(t, err)
	_, err = client.Profile(context.Background())
	assert.True(t, api.IsAuthFailure(err), "server session revoked")
}

func TestLogout_ServerFailureStillClears(t *testing.T) {
	f := newFixture(t)
	f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	f.srv.FailNext(api.PathLogout, 502)

	require.NoError(t, f.sess.Logout(context.Background()))
	assert.Equal(t, authstate.StateUnauthenticated, f.sess.State())
	_, ok := f.creds.Read()
	assert.False(t, ok)
}

type staticToken string

func (s staticToken) Token() string { return string(s) }

func TestRefresh_IntervalReplacesOnlyToken(t *testing.T) {
	f := newFixture(t, session.WithRefresh(session.RefreshConfig{Policy: session.PolicyInterval, Interval: time.Hour}))
	token := f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	require.Eventually(t, func() bool { return f.confirmations(metrics.OutcomeSuccess) == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Hour)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.RefreshRuns.WithLabelValues(metrics.OutcomeSuccess)) == 1
	}, waitFor, tick)
	stored, ok := f.creds.Read()
	require.True(t, ok)
	assert.NotEqual(t, token, stored.BearerToken)
	assert.Equal(t, "Amsterdam-Oost", stored.User.Region)
	assert.Equal(t, stored.BearerToken, f.sess.Auth().Identity().BearerToken)

	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Hour)
	require.Eventually(t, func() bool { return f.srv.Calls(api.PathRefresh) == 2 }, waitFor, tick)
}

func TestRefresh_FailureIsSwallowed(t *testing.T) {
	f := newFixture(t, session.WithRefresh(session.RefreshConfig{Interval: time.Hour}))
	f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	f.srv.FailNext(api.PathRefresh, 401)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Hour)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.RefreshRuns.WithLabelValues(metrics.OutcomeAuthFailure)) == 1
	}, waitFor, tick)
	assert.True(t, f.sess.State().SignedIn(), "refresh failure alone never signs out")
	assert.True(t, f.sess.RefreshScheduled())
}

func TestRefresh_LateResultAfterLogoutDiscarded(t *testing.T) {
	f := newFixture(t)
	f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	release := f.backend.hold("refresh")

	done := make(chan error, 1)
	go func() { done <- f.sess.RefreshNow(context.Background()) }()
	require.Eventually(t, func() bool { return f.srv.Calls(api.PathRefresh) == 1 }, waitFor, tick)

	require.NoError(t, f.sess.Logout(context.Background()))
	release()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, session.ErrSuperseded))
	case <-time.After(waitFor):
		t.Fatal("refresh did not return")
	}
	_, ok := f.creds.Read()
	assert.False(t, ok, "refreshed token must not resurrect the session")
	assert.Equal(t, authstate.StateUnauthenticated, f.sess.State())
}

func TestRefreshNow_RequiresSignIn(t *testing.T) {
	f := newFixture(t)
	f.sess.Start()
	assert.ErrorIs(t, f.sess.RefreshNow(context.Background()), session.ErrNotSignedIn)
}

func TestEntitlements(t *testing.T) {
	f := newFixture(t, session.WithPermissionTTL(2*time.Hour))
	f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	ctx := context.Background()

	snap, err := f.sess.Entitlements(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Has("games:play"))
	assert.True(t, snap.ExpiresAt.Equal(t0.Add(2*time.Hour)))

	again, err := f.sess.Entitlements(ctx)
	require.NoError(t, err)
	assert.Same(t, snap, again)
	assert.Equal(t, 1, f.srv.Calls(api.PathPermissions))

	require.NoError(t, f.sess.InvalidateEntitlements())
	_, err = f.sess.Entitlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.srv.Calls(api.PathPermissions))

	f.clock.Advance(3 * time.Hour)
	_, err = f.sess.Entitlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, f.srv.Calls(api.PathPermissions))
}

func TestEntitlements_ConcurrentMissesShareRequest(t *testing.T) {
	f := newFixture(t)
	f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	release := f.srv.Hold(api.PathPermissions)

	var wg sync.WaitGroup
	results := make([]*permission.Snapshot, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := f.sess.Entitlements(context.Background())
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}
	require.Eventually(t, func() bool { return f.srv.Calls(api.PathPermissions) == 1 }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, 1, f.srv.Calls(api.PathPermissions))
	for _, snap := range results {
		assert.Same(t, results[0], snap)
	}
}

func TestEntitlements_ForbiddenKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	require.Eventually(t, func() bool { return f.confirmations(metrics.OutcomeSuccess) == 1 }, waitFor, tick)
	f.srv.FailNext(api.PathPermissions, http.StatusForbidden)

	_, err := f.sess.Entitlements(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, api.StatusCode(err))

	assert.Equal(t, authstate.StateAuthenticated, f.sess.State(), "an entitlement denial is not a credential rejection")
	_, ok := f.creds.Read()
	assert.True(t, ok)
}

func TestEntitlements_RequiresSignIn(t *testing.T) {
	f := newFixture(t)
	f.sess.Start()
	_, err := f.sess.Entitlements(context.Background())
	assert.ErrorIs(t, err, session.ErrNotSignedIn)
}

func TestResync_ExternalLogoutAndLogin(t *testing.T) {
	f := newFixture(t)
	f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	require.Equal(t, authstate.StateAuthenticated, f.sess.State())
	require.Eventually(t, func() bool { return f.confirmations(metrics.OutcomeSuccess) == 1 }, waitFor, tick)

	// Another process signs out.
	other := credential.NewStore(f.durable, f.cookie)
	require.NoError(t, other.Clear())
	f.sess.Resync()
	assert.Equal(t, authstate.StateUnauthenticated, f.sess.State())
	assert.False(t, f.sess.RefreshScheduled())

	// And signs in again as someone else.
	p := completeProfile()
	p.ID = 42
	p.Phone = ""
	require.NoError(t, other.Write(&credential.IdentitySnapshot{User: p, BearerToken: "other-token"}))
	f.sess.Resync()
	assert.Equal(t, authstate.StateNeedsOnboarding, f.sess.State())
	assert.Equal(t, int64(42), f.sess.Auth().Identity().User.ID)
}

type chanWatcher chan string

func (w chanWatcher) Watch(ctx context.Context, fn func(key string)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case key := <-w:
			fn(key)
		}
	}
}

func TestWatchExternal(t *testing.T) {
	f := newFixture(t)
	f.seed(t, completeProfile(), completeProfile())
	f.sess.Start()
	require.Eventually(t, func() bool { return f.confirmations(metrics.OutcomeSuccess) == 1 }, waitFor, tick)

	w := make(chanWatcher)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.sess.WatchExternal(ctx, w) }()

	require.NoError(t, credential.NewStore(f.durable, f.cookie).Clear())
	w <- permission.Key
	assert.Equal(t, authstate.StateAuthenticated, f.sess.State(), "non-identity keys are ignored")
	w <- credential.KeyToken
	require.Eventually(t, func() bool { return f.sess.State() == authstate.StateUnauthenticated }, waitFor, tick)

	cancel()
	assert.NoError(t, <-done)
}
