package cmd

import (
	"fmt"

	"allin/internal/session"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// authCmd represents the auth command group
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the ALL-IN session",
	Long: `Manage the ALL-IN session stored on this machine.

Examples:
  allin auth login --email you@example.com   # Sign in
  allin auth register --email you@example.com --username you
  allin auth status                          # Show the session state
  allin auth refresh                         # Replace the bearer token now
  allin auth whoami                          # Show the signed-in identity
  allin auth logout                          # Sign out`,
}

// authLogoutCmd represents the auth logout command
var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	Long: `Clear the stored identity and cached entitlements, then tell the
backend to revoke the token. The local session is cleared even when the
backend cannot be reached.`,
	RunE: runAuthLogout,
}

// authRefreshCmd represents the auth refresh command
var authRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force a token refresh",
	Long: `Exchange the current bearer token for a fresh one. Only the token is
replaced; the stored profile is left as it is.`,
	RunE: runAuthRefresh,
}

// authWhoamiCmd represents the auth whoami command
var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in identity",
	RunE:  runAuthWhoami,
}

// authPrint prints output only if the --quiet flag is not set.
// Use this for progress messages and non-essential output.
func authPrint(cmd *cobra.Command, format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), format, args...)
	}
}

// authPrintln prints a line only if the --quiet flag is not set.
func authPrintln(cmd *cobra.Command, a ...interface{}) {
	if !quiet {
		fmt.Fprintln(cmd.OutOrStdout(), a...)
	}
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authRegisterCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authStatusCmd)
	authCmd.AddCommand(authRefreshCmd)
	authCmd.AddCommand(authWhoamiCmd)
}

func runAuthLogout(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd.Context(), func(rt *runtime) error {
		if !rt.session.State().SignedIn() && !rt.session.HasCredential() {
			authPrintln(cmd, "Not signed in.")
			return nil
		}
		if err := rt.session.Logout(cmd.Context()); err != nil {
			return fmt.Errorf("failed to clear the stored session: %w", err)
		}
		authPrintln(cmd, "Signed out.")
		return nil
	})
}

func runAuthRefresh(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd.Context(), func(rt *runtime) error {
		authPrint(cmd, "Refreshing token against %s...\n", rt.client.BaseURL())
		if err := rt.session.RefreshNow(cmd.Context()); err != nil {
			return fmt.Errorf("failed to refresh token: %w", err)
		}
		authPrintln(cmd, "Token refreshed successfully.")
		return nil
	})
}

func runAuthWhoami(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd.Context(), func(rt *runtime) error {
		id := rt.session.Auth().Identity()
		if id == nil || !rt.session.State().SignedIn() {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Not signed in.")
			fmt.Fprintln(out, "\nTo sign in, run:")
			fmt.Fprintln(out, "  allin auth login --email <email>")
			return session.ErrNotSignedIn
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Identity:  %s\n", id.User.Email)
		if id.User.Username != "" {
			fmt.Fprintf(out, "Username:  %s\n", id.User.Username)
		}
		if id.User.Role != "" {
			fmt.Fprintf(out, "Role:      %s\n", id.User.Role)
		}
		fmt.Fprintf(out, "State:     %s\n", stateLabel(rt.session.State().String()))
		if exp, ok := session.TokenExpiry(id.BearerToken); ok {
			fmt.Fprintf(out, "Expires:   %s\n", formatExpiry(exp))
		}
		return nil
	})
}

// stateLabel colours a state name for terminal output.
func stateLabel(state string) string {
	switch state {
	case "authenticated":
		return text.FgGreen.Sprint(state)
	case "needs_onboarding":
		return text.FgYellow.Sprint(state)
	case "unauthenticated":
		return text.FgRed.Sprint(state)
	default:
		return text.FgHiBlack.Sprint(state)
	}
}
