package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lherron/rebind/internal/cli/appctx"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/registry"
	"github.com/lherron/rebind/internal/render"
)

func newBindingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bindings",
		Short: "Inspect the table.column bindings",
	}
	cmd.AddCommand(newBindingsListCmd(), newBindingsScanCmd(), newBindingsValidateCmd())
	return cmd
}

// bindingRows is a binding list rendered as a table
type bindingRows []domain.Binding

func (b bindingRows) Table() render.Table {
	t := render.Table{Headers: []string{"TABLE", "COLUMN"}}
	for _, binding := range b {
		t.Rows = append(t.Rows, []string{binding.Table, binding.Column})
	}
	return t
}

func newBindingsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured bindings",
		Args:  cobra.NoArgs,
		RunE: appctx.WithApp(appctx.Options{}, func(app *appctx.App, cmd *cobra.Command, args []string) error {
			if app.Config.Scan.Enabled {
				return domain.ConfigurationError("bindings come from a schema scan; use 'rebind bindings scan'")
			}
			bindings, err := app.Registry().Bindings(appctx.Context(cmd))
			if err != nil {
				return err
			}
			return renderList(app, cmd, bindingRows(bindings))
		}),
	}
}

func newBindingsScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover bindings by matching column names in the data store",
		Long: `Scan lists every table.column whose column name matches one of the
patterns (shell glob syntax, e.g. "*user_id"). Patterns default to
scan.patterns from config. The entity table and scan.exclude_tables are
skipped.`,
		Args: cobra.NoArgs,
		RunE: appctx.WithApp(appctx.Options{}, runBindingsScan),
	}
	cmd.Flags().StringSlice("pattern", nil, "Column name pattern (repeatable)")
	return cmd
}

func runBindingsScan(app *appctx.App, cmd *cobra.Command, args []string) error {
	patterns, _ := cmd.Flags().GetStringSlice("pattern")
	if len(patterns) == 0 {
		patterns = app.Config.Scan.Patterns
	}
	if len(patterns) == 0 {
		return domain.ConfigurationError("no scan patterns (use --pattern or scan.patterns)")
	}
	if err := openData(app); err != nil {
		return err
	}
	bindings, err := app.ScanProvider(patterns).ListBindings(appctx.Context(cmd))
	if err != nil {
		return err
	}
	return renderList(app, cmd, bindingRows(bindings))
}

// validationRows is a registry validation rendered as a table
type validationRows map[string]registry.TableValidation

func (v validationRows) Table() render.Table {
	t := render.Table{Headers: []string{"TABLE", "EXISTS", "COLUMNS_OK", "COLUMNS"}}
	tables := make([]string, 0, len(v))
	for table := range v {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		tv := v[table]
		t.Rows = append(t.Rows, []string{
			table,
			fmt.Sprintf("%t", tv.TableExists),
			fmt.Sprintf("%t", tv.ColumnExists),
			strings.Join(tv.Columns, ","),
		})
	}
	return t
}

func newBindingsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check that every bound table and column exists",
		Args:  cobra.NoArgs,
		RunE: appctx.WithApp(appctx.DefaultOptions(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			results, err := app.Registry().Validate(appctx.Context(cmd), app.Data.Catalog())
			if len(results) > 0 {
				if renderErr := renderList(app, cmd, validationRows(results)); renderErr != nil {
					return renderErr
				}
			}
			return err
		}),
	}
}

// openData opens the data store for commands that bootstrap without it
func openData(app *appctx.App) error {
	if app.Data != nil {
		return nil
	}
	if app.Config.DSN == "" {
		return domain.ConfigurationError("no data store DSN configured (set dsn or REBIND_DSN)")
	}
	data, err := appctx.OpenData(app.Config)
	if err != nil {
		return err
	}
	app.Data = data
	return nil
}

func renderList(app *appctx.App, cmd *cobra.Command, v render.Tabular) error {
	opts, err := app.RenderOptions()
	if err != nil {
		return err
	}
	return render.NewRenderer(cmd.OutOrStdout(), opts).Render(v)
}
