package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/rebind/internal/cli/appctx"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/render"
	"github.com/lherron/rebind/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show run history from the state database",
	}
	cmd.AddCommand(newRunsListCmd(), newRunsShowCmd())
	return cmd
}

// runRows is run history rendered as a table
type runRows []store.Run

func (r runRows) Table() render.Table {
	t := render.Table{Headers: []string{"ID", "KIND", "SOURCE", "TARGET", "MODE", "PHASE", "STATUS", "STARTED"}}
	for _, run := range r {
		mode := "execute"
		if run.DryRun {
			mode = "simulate"
		}
		t.Rows = append(t.Rows, []string{
			run.FriendlyID, string(run.Kind), run.SourceID, run.TargetID, mode, run.Phase, run.Status, run.StartedAt,
		})
	}
	return t
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE:  appctx.WithApp(appctx.StateOnly(), runRunsList),
	}
	cmd.Flags().String("source", "", "Only runs for this source identifier")
	cmd.Flags().String("kind", "", "Only runs of this kind: migrate, verify, remove")
	cmd.Flags().Int("limit", 20, "Maximum number of runs (0 for all)")
	cmd.Flags().String("cursor", "", "Continue from the cursor printed by a previous page")
	return cmd
}

func runRunsList(app *appctx.App, cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	kind, _ := cmd.Flags().GetString("kind")
	limit, _ := cmd.Flags().GetInt("limit")
	pageCursor, _ := cmd.Flags().GetString("cursor")

	switch store.RunKind(kind) {
	case "", store.RunMigrate, store.RunVerify, store.RunRemove:
	default:
		return exitError(ExitConfiguration, fmt.Errorf("unknown run kind %q (must be one of: migrate, verify, remove)", kind))
	}
	sourceID, err := normalizeID("source", source)
	if err != nil {
		return err
	}

	runs, next, err := app.Store.Runs.Page(store.ListRunsParams{
		SourceID: sourceID,
		Kind:     store.RunKind(kind),
		Limit:    limit,
		Cursor:   pageCursor,
	})
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []store.Run{}
	}
	if err := renderList(app, cmd, runRows(runs)); err != nil {
		return err
	}
	if next != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "next page: --cursor %s\n", next)
	}
	return nil
}

// runDetail is one run with its log
type runDetail struct {
	store.Run
	Events []events.Event `json:"events,omitempty"`
}

func newRunsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run (R-00001, number or UUID)",
		Args:  cobra.ExactArgs(1),
		RunE:  appctx.WithApp(appctx.StateOnly(), runRunsShow),
	}
	cmd.Flags().Bool("events", false, "Include the run log")
	return cmd
}

func runRunsShow(app *appctx.App, cmd *cobra.Command, args []string) error {
	run, err := app.Store.Runs.Get(args[0])
	if err != nil {
		return err
	}
	detail := runDetail{Run: *run}
	if withEvents, _ := cmd.Flags().GetBool("events"); withEvents {
		detail.Events, err = app.Store.Runs.Events(run.ID)
		if err != nil {
			return err
		}
	}

	opts, err := app.RenderOptions()
	if err != nil {
		return err
	}
	r := render.NewRenderer(cmd.OutOrStdout(), opts)
	if opts.Format != render.FormatTable {
		return r.Render(detail)
	}

	pairs := [][2]string{
		{"id", run.FriendlyID},
		{"uuid", run.UUID},
		{"kind", string(run.Kind)},
		{"source", run.SourceID},
		{"target", run.TargetID},
		{"dry_run", fmt.Sprintf("%t", run.DryRun)},
		{"phase", run.Phase},
		{"status", run.Status},
		{"started", run.StartedAt},
		{"finished", run.FinishedAt},
	}
	if run.Error != "" {
		pairs = append(pairs, [2]string{"error", run.Error})
	}
	if err := r.RenderKV(pairs); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, e := range detail.Events {
		fields := ""
		if len(e.Fields) > 0 {
			data, _ := json.Marshal(e.Fields)
			fields = " " + string(data)
		}
		fmt.Fprintf(out, "%s %-7s %s%s\n", e.Time.Format("15:04:05.000"), strings.ToUpper(string(e.Level)), e.Message, fields)
	}
	return nil
}
