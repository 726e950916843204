package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCmd builds the rebind command tree
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rebind",
		Short: "Move references from one entity identifier to another, then remove it safely",
		Long: `rebind rewrites every reference to a source identifier so that it points
at a target identifier across a configured set of table.column bindings.
The rewrite runs in one transaction and is verified before commit. Once no
references remain, the source row can be backed up and deleted.

Runs simulate by default. Pass --execute to write.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to config file (overrides REBIND_CONFIG)")
	flags.String("dsn", "", "Data store DSN (overrides REBIND_DSN)")
	flags.String("dialect", "", "Data store dialect: sqlite or postgres")
	flags.String("schema", "", "Schema that holds the bound tables")
	flags.String("state-db", "", "Path to the state database (overrides REBIND_STATE_DB)")
	flags.String("backup-storage", "", "Backup storage: file or state")
	flags.String("backup-dir", "", "Directory for file backups")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: console or json")
	flags.StringP("output", "o", "", "Output format: table, json, yaml, tsv")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newVerifyCmd(),
		newRemoveCmd(),
		newBindingsCmd(),
		newRunsCmd(),
		newBackupsCmd(),
		newStateDBCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
