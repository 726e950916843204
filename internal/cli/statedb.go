package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lherron/rebind/internal/cli/appctx"
	"github.com/lherron/rebind/internal/db"
	"github.com/lherron/rebind/internal/render"
)

func newStateDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statedb",
		Short: "Maintain rebind's state database",
	}
	cmd.AddCommand(newStateDBMigrateCmd(), newStateDBStatusCmd())
	return cmd
}

func newStateDBMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run any pending state database migrations",
		Long: `Migrate applies any pending SQL migrations to the state database.

Migrations are embedded in the rebind binary and tracked via the
schema_migrations table and PRAGMA user_version. Each migration file
(e.g., 000001_baseline.sql) is applied exactly once, so the command is
safe to run repeatedly.

Use --dry-run to see which migrations would be applied without running them.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.Options{NeedsState: true, SkipMigrationCheck: true}, runStateDBMigrate),
	}
	cmd.Flags().Bool("dry-run", false, "Show which migrations would be applied without running them")
	return cmd
}

func runStateDBMigrate(app *appctx.App, cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		return showPendingMigrations(out, app.State)
	}

	applied, err := app.State.Migrate()
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if len(applied) == 0 {
		fmt.Fprintln(out, "State database is up to date. No migrations to apply.")
		return nil
	}
	for _, m := range applied {
		fmt.Fprintf(out, "✓ Applied migration: %s\n", m)
	}
	fmt.Fprintf(out, "\nApplied %d migration(s). Schema version is now %d.\n", len(applied), applied[len(applied)-1].Version)
	return nil
}

func newStateDBStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending state database migrations",
		Args:  cobra.NoArgs,
		RunE:  appctx.WithApp(appctx.Options{NeedsState: true, SkipMigrationCheck: true}, runStateDBStatus),
	}
}

func runStateDBStatus(app *appctx.App, cmd *cobra.Command, args []string) error {
	status, err := app.State.Status()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	opts, err := app.RenderOptions()
	if err != nil {
		return err
	}
	if opts.Format != render.FormatTable {
		return render.NewRenderer(cmd.OutOrStdout(), opts).Render(status)
	}
	showMigrationStatus(cmd.OutOrStdout(), status)
	return nil
}

func showMigrationStatus(out io.Writer, status db.Status) {
	fmt.Fprintf(out, "State database: %s\n", status.Path)
	fmt.Fprintf(out, "Schema version: %d (latest %d)\n\n", status.Version, status.Latest)
	if status.Fresh() && len(status.Pending) == 0 {
		fmt.Fprintln(out, "No migrations found.")
		return
	}

	if len(status.Applied) > 0 {
		fmt.Fprintln(out, "Applied migrations:")
		for _, m := range status.Applied {
			fmt.Fprintf(out, "  ✓ %s  %s\n", m, m.AppliedAt)
		}
	}

	if len(status.Pending) > 0 {
		if len(status.Applied) > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out, "Pending migrations:")
		for _, m := range status.Pending {
			fmt.Fprintf(out, "  ○ %s\n", m)
		}
	}
}

func showPendingMigrations(out io.Writer, database *db.DB) error {
	status, err := database.Status()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}

	if len(status.Pending) == 0 {
		fmt.Fprintln(out, "State database is up to date. No migrations to apply.")
		return nil
	}

	fmt.Fprintln(out, "Would apply the following migrations:")
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  ○ %s\n", m)
	}
	fmt.Fprintf(out, "\n%d migration(s) pending.\n", len(status.Pending))
	return nil
}
