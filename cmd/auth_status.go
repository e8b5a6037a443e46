package cmd

import (
	"fmt"
	"io"
	"strings"

	"allin/internal/session"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var statusHistory bool

// authStatusCmd represents the auth status command
var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state",
	Long: `Show the state of the stored session once it has been loaded, the
signed-in identity, token expiry and whether a refresh is scheduled.

With --history the state transitions of this invocation are listed too.`,
	RunE: runAuthStatus,
}

func init() {
	authStatusCmd.Flags().BoolVar(&statusHistory, "history", false, "List the state transitions seen while loading")
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd.Context(), func(rt *runtime) error {
		out := cmd.OutOrStdout()
		renderStatus(out, rt)
		if statusHistory {
			renderHistory(out, rt)
		}
		return nil
	})
}

func renderStatus(out io.Writer, rt *runtime) {
	state := rt.session.State()
	id := rt.session.Auth().Identity()

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Property", "Value"})
	t.AppendRow(table.Row{"State", stateLabel(state.String())})
	t.AppendRow(table.Row{"Backend", rt.client.BaseURL()})
	t.AppendRow(table.Row{"Storage", rt.cfg.Storage.Backend})

	if id != nil && state.SignedIn() {
		t.AppendRow(table.Row{"Email", id.User.Email})
		if id.User.Username != "" {
			t.AppendRow(table.Row{"Username", id.User.Username})
		}
		if missing := id.User.MissingOnboardingFields(); len(missing) > 0 {
			t.AppendRow(table.Row{"Onboarding", "missing " + strings.Join(missing, ", ")})
		} else {
			t.AppendRow(table.Row{"Onboarding", "complete"})
		}
		if exp, ok := session.TokenExpiry(id.BearerToken); ok {
			t.AppendRow(table.Row{"Token expires", formatExpiry(exp)})
		} else {
			t.AppendRow(table.Row{"Token expires", "unknown"})
		}
		t.AppendRow(table.Row{"Refresh scheduled", fmt.Sprintf("%t", rt.session.RefreshScheduled())})
	}
	t.Render()
}

func renderHistory(out io.Writer, rt *runtime) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"At", "From", "To"})
	for _, tr := range rt.session.Machine().Transitions() {
		t.AppendRow(table.Row{tr.At.Format("15:04:05.000"), tr.From, tr.To})
	}
	t.Render()
}
