package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"allin/internal/api"
	"allin/internal/authstate"

	"github.com/spf13/cobra"
)

// envPassword lets scripts pass the password without a flag.
const envPassword = "ALLIN_PASSWORD"

var (
	loginEmail    string
	loginPassword string

	registerUsername string
	registerPhone    string
)

// authLoginCmd represents the auth login command
var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password",
	Long: `Sign in to ALL-IN with email and password and store the session.

The password is read from --password, then from ALLIN_PASSWORD, and is
prompted for otherwise.

Examples:
  allin auth login --email you@example.com
  ALLIN_PASSWORD=secret allin auth login --email you@example.com -q`,
	RunE: runAuthLogin,
}

// authRegisterCmd represents the auth register command
var authRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	Long: `Create an ALL-IN account and sign in with it. New accounts usually
still need onboarding; run 'allin onboard' afterwards.`,
	RunE: runAuthRegister,
}

func init() {
	for _, c := range []*cobra.Command{authLoginCmd, authRegisterCmd} {
		c.Flags().StringVar(&loginEmail, "email", "", "Account email")
		c.Flags().StringVar(&loginPassword, "password", "", "Account password (env: ALLIN_PASSWORD)")
	}
	authRegisterCmd.Flags().StringVar(&registerUsername, "username", "", "Display name")
	authRegisterCmd.Flags().StringVar(&registerPhone, "phone", "", "Phone number")
}

// credentials resolves the email and password from flags, the environment
// and finally the terminal.
func credentials(cmd *cobra.Command) (email, password string, err error) {
	in := bufio.NewReader(cmd.InOrStdin())
	email = strings.TrimSpace(loginEmail)
	if email == "" {
		if email, err = prompt(cmd, in, "Email: "); err != nil {
			return "", "", err
		}
	}
	password = loginPassword
	if password == "" {
		password = os.Getenv(envPassword)
	}
	if password == "" {
		if password, err = prompt(cmd, in, "Password: "); err != nil {
			return "", "", err
		}
	}
	if email == "" || password == "" {
		return "", "", errors.New("email and password are required")
	}
	return email, password, nil
}

func runAuthLogin(cmd *cobra.Command, args []string) error {
	email, password, err := credentials(cmd)
	if err != nil {
		return err
	}
	return withRuntime(cmd.Context(), func(rt *runtime) error {
		stop := startSpinner(cmd, "Signing in...")
		state, err := rt.session.Login(cmd.Context(), email, password)
		if err != nil {
			stop("")
			if api.IsAuthFailure(err) {
				return fmt.Errorf("sign-in rejected: %w", err)
			}
			return fmt.Errorf("failed to sign in: %w", err)
		}
		stop("")
		reportSignedIn(cmd, rt, state)
		return nil
	})
}

func runAuthRegister(cmd *cobra.Command, args []string) error {
	email, password, err := credentials(cmd)
	if err != nil {
		return err
	}
	return withRuntime(cmd.Context(), func(rt *runtime) error {
		stop := startSpinner(cmd, "Creating account...")
		state, err := rt.session.Register(cmd.Context(), api.RegisterRequest{
			Username: registerUsername,
			Email:    email,
			Phone:    registerPhone,
			Password: password,
		})
		stop("")
		if err != nil {
			return fmt.Errorf("failed to register: %w", err)
		}
		reportSignedIn(cmd, rt, state)
		return nil
	})
}

func reportSignedIn(cmd *cobra.Command, rt *runtime, state authstate.State) {
	id := rt.session.Auth().Identity()
	if id == nil {
		return
	}
	authPrint(cmd, "Signed in as %s (%s)\n", id.User.Email, stateLabel(state.String()))
	if state == authstate.StateNeedsOnboarding {
		authPrint(cmd, "Profile incomplete, missing: %s\n", strings.Join(id.User.MissingOnboardingFields(), ", "))
		authPrintln(cmd, "Run 'allin onboard' to finish setting up your account.")
	}
}
