package cmd

import (
	"errors"
	"os"

	"allin/internal/api"
	"allin/internal/config"
	"allin/internal/session"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates the command needs a signed-in user.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the backend rejected the credentials.
	ExitCodeAuthFailed = 3
)

// Global flags shared by every command.
var (
	configDir string
	logLevel  string
	apiURL    string
	quiet     bool
)

// rootCmd represents the base command for the allin application.
var rootCmd = &cobra.Command{
	Use:   "allin",
	Short: "Sign in to ALL-IN and inspect the local session",
	Long: `allin manages the ALL-IN session on this machine.

It signs you in and out, completes onboarding, keeps the bearer token
fresh and shows which routes the current session may enter. The session
is persisted in the configured storage backend and picked up again by
every command.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "allin version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if session.IsAuthRequired(err) || errors.Is(err, api.ErrNoCredential) {
		return ExitCodeAuthRequired
	}
	if api.IsAuthFailure(err) {
		return ExitCodeAuthFailed
	}
	return ExitCodeError
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.PersistentFlags().StringVar(&configDir, "config", config.DefaultConfigDir(), "Configuration directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (env: ALLIN_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "Backend API root (env: ALLIN_API_URL)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-essential output")
}
