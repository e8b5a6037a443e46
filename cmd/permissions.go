package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	permissionsInvalidate bool
	permissionsRequire    string
)

// permissionsCmd represents the permissions command
var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "List the entitlements of the signed-in user",
	Long: `List the entitlements of the signed-in user. Entitlements are cached
locally for the configured permission TTL; --invalidate drops the cache
first so they are fetched again.

With --require the command fails unless the entitlement is granted.

Examples:
  allin permissions
  allin permissions --invalidate
  allin permissions --require games:play`,
	RunE: runPermissions,
}

func init() {
	rootCmd.AddCommand(permissionsCmd)
	permissionsCmd.Flags().BoolVar(&permissionsInvalidate, "invalidate", false, "Drop the cached entitlements before listing")
	permissionsCmd.Flags().StringVar(&permissionsRequire, "require", "", "Fail unless this entitlement is granted")
}

func runPermissions(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd.Context(), func(rt *runtime) error {
		if permissionsInvalidate {
			if err := rt.session.InvalidateEntitlements(); err != nil {
				return fmt.Errorf("failed to invalidate entitlements: %w", err)
			}
		}
		snap, err := rt.session.Entitlements(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load entitlements: %w", err)
		}

		if !quiet {
			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"Entitlement"})
			for _, e := range snap.Entitlements {
				t.AppendRow(table.Row{e})
			}
			t.AppendFooter(table.Row{"cached until " + snap.ExpiresAt.Local().Format("2006-01-02 15:04")})
			t.Render()
		}

		if permissionsRequire != "" && !snap.Has(permissionsRequire) {
			return fmt.Errorf("entitlement %q is not granted", permissionsRequire)
		}
		return nil
	})
}
