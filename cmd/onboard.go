package cmd

import (
	"errors"
	"fmt"

	"allin/internal/api"
	"allin/internal/authstate"
	"allin/internal/session"

	"github.com/spf13/cobra"
)

var (
	onboardRegion   string
	onboardDOB      string
	onboardPhone    string
	onboardUsername string
)

// onboardCmd represents the onboard command
var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Complete the account profile",
	Long: `Fill in the profile fields an account needs before it can use the
application: region, date of birth and phone. Only the flags given are
sent; the profile is then re-read from the backend.

Examples:
  allin onboard --region EU --dob 1990-01-01 --phone "+33 6 12 34 56 78"`,
	RunE: runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
	onboardCmd.Flags().StringVar(&onboardRegion, "region", "", "Region")
	onboardCmd.Flags().StringVar(&onboardDOB, "dob", "", "Date of birth (YYYY-MM-DD)")
	onboardCmd.Flags().StringVar(&onboardPhone, "phone", "", "Phone number")
	onboardCmd.Flags().StringVar(&onboardUsername, "username", "", "Display name")
}

func onboardUpdate(cmd *cobra.Command) api.ProfileUpdate {
	var u api.ProfileUpdate
	set := func(flag string, v *string, dst **string) {
		if cmd.Flags().Changed(flag) {
			*dst = v
		}
	}
	set("region", &onboardRegion, &u.Region)
	set("dob", &onboardDOB, &u.DateOfBirth)
	set("phone", &onboardPhone, &u.Phone)
	set("username", &onboardUsername, &u.Username)
	return u
}

func runOnboard(cmd *cobra.Command, args []string) error {
	update := onboardUpdate(cmd)
	return withRuntime(cmd.Context(), func(rt *runtime) error {
		if !rt.session.State().SignedIn() {
			return session.ErrNotSignedIn
		}
		state, err := rt.session.CompleteOnboarding(cmd.Context(), update)
		if errors.Is(err, session.ErrOnboardingIncomplete) {
			authPrintln(cmd, "Profile saved but onboarding is not complete yet.")
			return err
		}
		if err != nil {
			return fmt.Errorf("failed to complete onboarding: %w", err)
		}
		if state == authstate.StateAuthenticated {
			authPrintln(cmd, "Onboarding complete.")
		}
		return nil
	})
}
