package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/rebind/internal/cli/appctx"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/removal"
	"github.com/lherron/rebind/internal/report"
	"github.com/lherron/rebind/internal/store"
)

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove [SOURCE]",
		Short: "Back up and delete the SOURCE entity row once nothing references it",
		Long: `Remove counts references to SOURCE afresh and refuses to continue if any
remain (exit status 4). It then stores a snapshot of the entity row and
confirms the backup before deleting the row inside a transaction that
re-checks references and confirms the row is gone.

Without --execute the backup is written and the row is kept. With
--execute you are asked to type SOURCE unless --yes is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: appctx.WithApp(appctx.DefaultOptions(), runRemove),
	}
	addModeFlags(cmd)
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().String("report", "", "Write the JSON report to this file")
	return cmd
}

func runRemove(app *appctx.App, cmd *cobra.Command, args []string) error {
	sourceID, _, err := resolveIDs(app, args)
	if err != nil {
		return err
	}
	if sourceID == "" {
		return domain.ConfigurationError("source id is required")
	}
	mode, err := resolveMode(cmd, app)
	if err != nil {
		return err
	}
	opts, err := app.RenderOptions()
	if err != nil {
		return err
	}

	if !mode.DryRun() {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			if err := confirmRemoval(cmd.InOrStdin(), cmd.ErrOrStderr(), app.Config.Entity, sourceID); err != nil {
				return err
			}
		}
	}

	run, err := startRun(cmd, app, store.RunRemove, sourceID, "", mode.DryRun())
	if err != nil {
		return err
	}

	gate := removal.NewGate(removal.Dependencies{
		Pool:     app.Data,
		SQL:      app.Data.SQL(),
		Registry: app.Registry(),
		Entity:   app.Config.Entity,
		Storage:  app.Storage(),
		Observer: app.Observer(),
		NewRunID: func() string { return run.UUID },
	})
	rep, runErr := gate.Remove(appctx.Context(cmd), removal.Request{SourceID: sourceID, Mode: mode})

	reportPath, _ := cmd.Flags().GetString("report")
	recordOutcome(cmd, app, run, reportPath, outcome{
		Kind:      store.RunRemove,
		RunID:     rep.RunID,
		SourceID:  sourceID,
		DryRun:    rep.DryRun,
		Phase:     string(rep.Phase),
		Succeeded: rep.Succeeded(),
		Err:       runErr,
		Report:    rep,
		Events:    rep.Events,
	})

	if err := report.WriteRemoval(cmd.OutOrStdout(), opts, rep); err != nil {
		return err
	}
	return runErr
}

// confirmRemoval asks the operator to type the identifier being deleted
func confirmRemoval(in io.Reader, out io.Writer, entity domain.EntityRef, sourceID string) error {
	fmt.Fprintf(out, "This permanently deletes %s.%s = %s.\nType the identifier to confirm: ", entity.Table, entity.PrimaryKey, sourceID)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != sourceID {
		return exitError(ExitFailure, fmt.Errorf("removal not confirmed"))
	}
	return nil
}
