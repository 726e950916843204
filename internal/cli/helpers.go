package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lherron/rebind/internal/cli/appctx"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/id"
	"github.com/lherron/rebind/internal/report"
	"github.com/lherron/rebind/internal/store"
	"github.com/lherron/rebind/internal/webhooks"
)

// Process exit codes
const (
	ExitFailure       = 1
	ExitConfiguration = 2
	ExitNotFound      = 3
	ExitSafety        = 4
	ExitVerification  = 5
)

// ExitError carries an explicit exit code
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError returns an error that will cause the CLI to exit with the given code
func exitError(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps err to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	switch domain.KindOf(err) {
	case domain.KindConfiguration:
		return ExitConfiguration
	case domain.KindNotFound:
		return ExitNotFound
	case domain.KindSafety:
		return ExitSafety
	case domain.KindVerification:
		return ExitVerification
	}
	return ExitFailure
}

// addModeFlags registers --execute and --dry-run
func addModeFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("execute", false, "Write changes (default is to simulate)")
	cmd.Flags().Bool("dry-run", true, "Simulate without writing")
}

// resolveMode applies --execute and --dry-run over the configured dry_run
func resolveMode(cmd *cobra.Command, app *appctx.App) (domain.RunMode, error) {
	execute, _ := cmd.Flags().GetBool("execute")
	dryRunSet := cmd.Flags().Changed("dry-run")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if execute && dryRunSet && dryRun {
		return "", domain.ConfigurationError("--execute and --dry-run are mutually exclusive")
	}
	switch {
	case execute:
		return domain.ModeExecute, nil
	case dryRunSet:
		return domain.ModeFor(dryRun), nil
	default:
		return app.Config.Mode(), nil
	}
}

// normalizeID trims and canonicalizes an entity identifier
func normalizeID(label, raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	normalized, _, err := id.Normalize(raw)
	if err != nil {
		return "", domain.ConfigurationError("%s: %v", label, err)
	}
	return normalized, nil
}

// resolveIDs takes SOURCE [TARGET] from args, falling back to config
func resolveIDs(app *appctx.App, args []string) (string, string, error) {
	target := app.Config.Target()
	if len(args) > 0 {
		target.SourceID = args[0]
	}
	if len(args) > 1 {
		target.TargetID = args[1]
	}
	sourceID, err := normalizeID("source id", target.SourceID)
	if err != nil {
		return "", "", err
	}
	targetID, err := normalizeID("target id", target.TargetID)
	if err != nil {
		return "", "", err
	}
	return sourceID, targetID, nil
}

// outcome is what a finished engine run hands to recordOutcome
type outcome struct {
	Kind      store.RunKind
	RunID     string
	SourceID  string
	TargetID  string
	DryRun    bool
	Phase     string
	Succeeded bool
	Err       error
	Report    any
	Events    []events.Event
}

// startRun inserts a running row in the run history
func startRun(cmd *cobra.Command, app *appctx.App, kind store.RunKind, sourceID, targetID string, dryRun bool) (*store.Run, error) {
	run, err := app.Store.Runs.Create(appctx.Context(cmd), store.CreateRunParams{
		Kind:     kind,
		SourceID: sourceID,
		TargetID: targetID,
		DryRun:   dryRun,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}
	return run, nil
}

// recordOutcome finishes the run row, writes the report file and posts
// webhooks. Failures here are logged; they never replace the run's own error.
func recordOutcome(cmd *cobra.Command, app *appctx.App, run *store.Run, reportPath string, o outcome) {
	logger := app.Logger.With(zap.String("run", run.FriendlyID), zap.String("kind", string(o.Kind)))

	// The outcome is recorded even when the command was interrupted.
	err := app.Store.Runs.Finish(context.WithoutCancel(appctx.Context(cmd)), run.ID, store.FinishRunParams{
		Phase:     o.Phase,
		Succeeded: o.Succeeded,
		Err:       o.Err,
		Report:    o.Report,
		Events:    o.Events,
	})
	if err != nil {
		logger.Error("failed to record run outcome", zap.Error(err))
	}

	if reportPath == "" {
		reportPath = app.Config.Report
	}
	if reportPath != "" {
		if err := report.WriteFile(reportPath, o.Report); err != nil {
			logger.Error("failed to write report file", zap.String("path", reportPath), zap.Error(err))
		} else {
			logger.Debug("report written", zap.String("path", reportPath))
		}
	}

	dispatcher := app.Webhooks()
	if !dispatcher.Enabled() {
		return
	}
	payload, err := webhooks.NewPayload(string(o.Kind), o.RunID, o.SourceID, o.TargetID, o.DryRun,
		o.Phase, o.Err, string(domain.KindOf(o.Err)), o.Report)
	if err != nil {
		logger.Error("failed to build webhook payload", zap.Error(err))
		return
	}
	delivered := dispatcher.Dispatch(appctx.Context(cmd), payload)
	logger.Debug("webhooks dispatched", zap.Int("delivered", delivered))
}
