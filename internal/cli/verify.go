package cli

import (
	"github.com/spf13/cobra"

	"github.com/lherron/rebind/internal/cli/appctx"
	"github.com/lherron/rebind/internal/domain"
	"github.com/lherron/rebind/internal/events"
	"github.com/lherron/rebind/internal/refcount"
	"github.com/lherron/rebind/internal/report"
	"github.com/lherron/rebind/internal/store"
	"github.com/lherron/rebind/internal/verify"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify [SOURCE [TARGET]]",
		Short: "Count remaining references to SOURCE",
		Long: `Verify counts references to SOURCE (and TARGET, when given) in every
binding without writing anything. It exits with status 5 when any
reference to SOURCE remains.`,
		Args: cobra.RangeArgs(0, 2),
		RunE: appctx.WithApp(appctx.DefaultOptions(), runVerify),
	}
	cmd.Flags().String("report", "", "Write the JSON result to this file")
	return cmd
}

func runVerify(app *appctx.App, cmd *cobra.Command, args []string) error {
	sourceID, targetID, err := resolveIDs(app, args)
	if err != nil {
		return err
	}
	if sourceID == "" {
		return domain.ConfigurationError("source id is required")
	}
	opts, err := app.RenderOptions()
	if err != nil {
		return err
	}

	run, err := startRun(cmd, app, store.RunVerify, sourceID, targetID, true)
	if err != nil {
		return err
	}

	recorder := events.NewRecorder()
	emit := events.NewEmitter(events.Multi(app.Observer(), recorder))
	emit.Info("verification started", "run_id", run.UUID, "source_id", sourceID, "target_id", targetID)

	result := report.VerifyResult{SourceID: sourceID, TargetID: targetID}
	verifyErr := func() error {
		ctx := appctx.Context(cmd)
		reg := app.Registry()
		bindings, err := reg.Bindings(ctx)
		if err != nil {
			return err
		}
		if _, err := reg.ValidateBindings(ctx, app.Data.Catalog(), bindings); err != nil {
			return err
		}
		summary, err := verify.New(refcount.New(app.Data.SQL())).Verify(ctx, app.Data, bindings, sourceID, targetID)
		if err != nil {
			return err
		}
		result.Summary = summary
		result.Clean = summary.Clean()
		if !result.Clean {
			emit.Warn("references to the source remain", "remaining", summary.TotalSourceRemaining)
			return domain.VerificationError("verify", "", "%d reference(s) to %s remain", summary.TotalSourceRemaining, sourceID)
		}
		emit.Success("no references to the source remain", "source_id", sourceID)
		return nil
	}()
	if verifyErr != nil && domain.KindOf(verifyErr) != domain.KindVerification {
		emit.Error("verification failed", "error", verifyErr.Error())
	}

	reportPath, _ := cmd.Flags().GetString("report")
	recordOutcome(cmd, app, run, reportPath, outcome{
		Kind:      store.RunVerify,
		RunID:     run.UUID,
		SourceID:  sourceID,
		TargetID:  targetID,
		DryRun:    true,
		Phase:     "verify",
		Succeeded: verifyErr == nil,
		Err:       verifyErr,
		Report:    result,
		Events:    recorder.Events(),
	})

	if verifyErr != nil && domain.KindOf(verifyErr) != domain.KindVerification {
		return verifyErr
	}
	if err := report.WriteVerify(cmd.OutOrStdout(), opts, result); err != nil {
		return err
	}
	return verifyErr
}
