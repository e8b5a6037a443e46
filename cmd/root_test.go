package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"allin/internal/api"
	"allin/internal/session"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersion(t *testing.T) {
	original := GetVersion()
	defer SetVersion(original)

	SetVersion("1.2.3-test")
	assert.Equal(t, "1.2.3-test", rootCmd.Version)
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "allin", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.True(t, rootCmd.SilenceUsage)

	for _, name := range []string{"config", "log-level", "api-url", "quiet"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), "missing flag %s", name)
	}
}

func TestVersionTemplate(t *testing.T) {
	testCmd := &cobra.Command{
		Use:     "test",
		Version: "1.0.0",
	}
	testCmd.SetVersionTemplate(`{{printf "allin version %s\n" .Version}}`)

	var buf bytes.Buffer
	testCmd.SetOut(&buf)
	testCmd.SetArgs([]string{"--version"})
	require.NoError(t, testCmd.Execute())
	assert.Equal(t, "allin version 1.0.0\n", buf.String())
}

func TestSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		found[c.Name()] = true
	}
	for _, expected := range []string{"version", "auth", "onboard", "route", "permissions", "watch"} {
		assert.True(t, found[expected], "expected subcommand %q", expected)
	}

	found = make(map[string]bool)
	for _, c := range authCmd.Commands() {
		found[c.Name()] = true
	}
	for _, expected := range []string{"login", "register", "logout", "status", "refresh", "whoami"} {
		assert.True(t, found[expected], "expected auth subcommand %q", expected)
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCodeSuccess},
		{"generic", errors.New("boom"), ExitCodeError},
		{"not signed in", session.ErrNotSignedIn, ExitCodeAuthRequired},
		{"wrapped not signed in", fmt.Errorf("whoami: %w", session.ErrNotSignedIn), ExitCodeAuthRequired},
		{"no credential", &api.Error{Op: "profile", Err: api.ErrNoCredential}, ExitCodeAuthRequired},
		{"rejected", fmt.Errorf("sign-in rejected: %w", &api.Error{Op: "login", Status: 401}), ExitCodeAuthFailed},
		{"forbidden", &api.Error{Op: "permissions", Status: 403}, ExitCodeError},
		{"server error", &api.Error{Op: "profile", Status: 500}, ExitCodeError},
		{"superseded", session.ErrSuperseded, ExitCodeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, getExitCode(tt.err))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "expired"},
		{30 * time.Second, "< 1 minute"},
		{time.Minute, "1 minute"},
		{45 * time.Minute, "45 minutes"},
		{time.Hour, "1 hour"},
		{5 * time.Hour, "5 hours"},
		{24 * time.Hour, "1 day"},
		{72 * time.Hour, "3 days"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatDuration(tt.d))
		})
	}
}
