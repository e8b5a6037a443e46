package cmd

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// routeCmd represents the route command group
var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Inspect route admission",
}

// routeCheckCmd represents the route check command
var routeCheckCmd = &cobra.Command{
	Use:   "check <path>...",
	Short: "Show whether the session may enter the given routes",
	Long: `Evaluate the route guards for each path against the stored session
and print the decision: admitted, or where the user would be sent instead.

Examples:
  allin route check /dashboard /login /onboarding`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRouteCheck,
}

func init() {
	rootCmd.AddCommand(routeCmd)
	routeCmd.AddCommand(routeCheckCmd)
}

func runRouteCheck(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd.Context(), func(rt *runtime) error {
		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Route", "Decision", "Destination", "Reason"})
		for _, target := range args {
			d := rt.guard.Admit(cmd.Context(), target)
			action := text.FgGreen.Sprint(d.Action)
			if !d.Allowed() {
				action = text.FgYellow.Sprint(d.Action)
			}
			t.AppendRow(table.Row{target, action, d.URL(), d.Reason})
		}
		t.Render()
		return nil
	})
}
