package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lherron/rebind/internal/cli/appctx"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/migrate"
	"github.com/lherron/rebind/internal/report"
	"github.com/lherron/rebind/internal/store"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [SOURCE TARGET]",
		Short: "Move every reference from SOURCE to TARGET",
		Long: `Migrate counts references to SOURCE in every binding, rewrites them to
TARGET inside one transaction, re-counts inside the transaction and commits
only if nothing references SOURCE. A second count runs after commit.

SOURCE and TARGET fall back to source_id and target_id from config.
Without --execute the run only counts and reports what would change.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: appctx.WithApp(appctx.DefaultOptions(), runMigrate),
	}
	addModeFlags(cmd)
	cmd.Flags().Bool("diff", false, "Print the planned count changes as a unified diff")
	cmd.Flags().String("report", "", "Write the JSON report to this file")
	return cmd
}

func runMigrate(app *appctx.App, cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return domain.ConfigurationError("migrate takes both SOURCE and TARGET, or neither")
	}
	sourceID, targetID, err := resolveIDs(app, args)
	if err != nil {
		return err
	}
	mode, err := resolveMode(cmd, app)
	if err != nil {
		return err
	}
	opts, err := app.RenderOptions()
	if err != nil {
		return err
	}

	run, err := startRun(cmd, app, store.RunMigrate, sourceID, targetID, mode.DryRun())
	if err != nil {
		return err
	}

	svc := migrate.NewService(migrate.Dependencies{
		Pool:     app.Data,
		Catalog:  app.Data.Catalog(),
		SQL:      app.Data.SQL(),
		Registry: app.Registry(),
		Entity:   app.Config.Entity,
		Observer: app.Observer(),
		NewRunID: func() string { return run.UUID },
	})
	rep, runErr := svc.Migrate(appctx.Context(cmd), migrate.Request{
		Target: domain.MigrationTarget{SourceID: sourceID, TargetID: targetID},
		Mode:   mode,
	})

	reportPath, _ := cmd.Flags().GetString("report")
	recordOutcome(cmd, app, run, reportPath, outcome{
		Kind:      store.RunMigrate,
		RunID:     rep.RunID,
		SourceID:  sourceID,
		TargetID:  targetID,
		DryRun:    rep.DryRun,
		Phase:     string(rep.Phase),
		Succeeded: rep.Succeeded(),
		Err:       runErr,
		Report:    rep,
		Events:    rep.Events,
	})

	out := cmd.OutOrStdout()
	if err := report.WriteMigration(out, opts, rep); err != nil {
		return err
	}
	if showDiff, _ := cmd.Flags().GetBool("diff"); showDiff && runErr == nil {
		diff, err := report.PlanDiff(rep)
		if err != nil {
			return fmt.Errorf("failed to render diff: %w", err)
		}
		fmt.Fprintln(out)
		fmt.Fprint(out, diff)
	}
	return runErr
}
