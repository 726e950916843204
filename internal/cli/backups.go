package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lherron/rebind/internal/backup"
	"github.com/lherron/rebind/internal/cli/appctx"
	"github.com/lherron/rebind/internal/config"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/render"
	"github.com/lherron/rebind/internal/store"
)

func newBackupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Inspect entity snapshots taken before removal",
	}
	cmd.AddCommand(newBackupsListCmd(), newBackupsShowCmd())
	return cmd
}

// backupRow is one listed backup, whatever the storage
type backupRow struct {
	Reference   domain.BackupReference `json:"reference"`
	EntityTable string                 `json:"entity_table"`
	EntityID    string                 `json:"entity_id"`
	TakenAt     string                 `json:"taken_at"`
}

type backupRows []backupRow

func (b backupRows) Table() render.Table {
	t := render.Table{Headers: []string{"TAKEN", "TABLE", "ENTITY", "REFERENCE"}}
	for _, row := range b {
		t.Rows = append(t.Rows, []string{row.TakenAt, row.EntityTable, row.EntityID, string(row.Reference)})
	}
	return t
}

func newBackupsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored backups, newest first",
		Args:  cobra.NoArgs,
		RunE:  appctx.WithApp(appctx.StateOnly(), runBackupsList),
	}
	cmd.Flags().String("entity", "", "Only backups of this entity identifier")
	cmd.Flags().Int("limit", 0, "Maximum number of backups (0 for all)")
	return cmd
}

func runBackupsList(app *appctx.App, cmd *cobra.Command, args []string) error {
	entity, _ := cmd.Flags().GetString("entity")
	limit, _ := cmd.Flags().GetInt("limit")
	entityID, err := normalizeID("entity", entity)
	if err != nil {
		return err
	}

	rows := backupRows{}
	if app.Config.Backup.Storage == config.BackupStorageState {
		records, err := app.Store.Backups.List(store.ListBackupsParams{
			EntityTable: app.Config.Entity.Table,
			EntityID:    entityID,
			Limit:       limit,
		})
		if err != nil {
			return err
		}
		for _, rec := range records {
			rows = append(rows, backupRow{Reference: rec.Reference, EntityTable: rec.EntityTable, EntityID: rec.EntityID, TakenAt: rec.TakenAt})
		}
	} else {
		entries, err := backup.NewFileStorage(app.Config.Backup.Dir).Entries()
		if err != nil {
			return err
		}
		for _, e := range entries {
			if entityID != "" && e.EntityID != entityID {
				continue
			}
			if limit > 0 && len(rows) == limit {
				break
			}
			rows = append(rows, backupRow{Reference: e.Reference, EntityTable: e.EntityTable, EntityID: e.EntityID, TakenAt: e.TakenAt.Format(time.RFC3339Nano)})
		}
	}
	return renderList(app, cmd, rows)
}

func newBackupsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <reference>",
		Short: "Print a stored snapshot after checking its digest",
		Args:  cobra.ExactArgs(1),
		RunE:  appctx.WithApp(appctx.StateOnly(), runBackupsShow),
	}
}

func runBackupsShow(app *appctx.App, cmd *cobra.Command, args []string) error {
	ref := domain.BackupReference(args[0])
	loader, err := app.Loader(args[0])
	if err != nil {
		return exitError(ExitConfiguration, err)
	}
	snapshot, err := loader.Load(appctx.Context(cmd), ref)
	if err != nil {
		return err
	}

	opts, err := app.RenderOptions()
	if err != nil {
		return err
	}
	r := render.NewRenderer(cmd.OutOrStdout(), opts)
	if opts.Format != render.FormatTable {
		return r.Render(snapshot)
	}

	if err := r.RenderKV([][2]string{
		{"reference", string(ref)},
		{"entity", fmt.Sprintf("%s.%s = %s", snapshot.EntityTable, snapshot.PrimaryKey, snapshot.EntityID)},
		{"taken", snapshot.TakenAt.Format(time.RFC3339Nano)},
	}); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	t := render.Table{Headers: []string{"COLUMN", "VALUE"}}
	for _, column := range snapshot.Columns {
		t.Rows = append(t.Rows, []string{column, formatValue(snapshot.Row[column])})
	}
	return r.RenderTable(t)
}

func formatValue(v any) string {
	if b, ok := v.([]byte); ok {
		return fmt.Sprintf("x'%X'", b)
	}
	return fmt.Sprintf("%v", v)
}
