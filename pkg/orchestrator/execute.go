package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/natserract/sfclean/pkg/audit"
	"github.com/natserract/sfclean/pkg/notify"
	"github.com/natserract/sfclean/pkg/resource"
	"go.uber.org/zap"
)

func (r *run) execute(ctx context.Context) (Stage, error) {
	items := make([]resource.Item, 0, len(r.candidates)+len(r.plannedFolders))
	for _, c := range r.candidates {
		items = append(items, c.Ref())
	}
	for _, n := range r.plannedFolders {
		items = append(items, n.Ref())
	}
	r.recorder.SetRemaining(items)
	if err := r.recorder.Checkpoint(ctx); err != nil {
		return "", fmt.Errorf("persist operation state: %w", err)
	}

	processed := 0
	for _, c := range r.candidates {
		if err := r.pace(ctx); err != nil {
			return "", ErrCancelled
		}

		err := r.deps.Gateway.DeleteDataExtension(ctx, c.CustomerKey)
		if err != nil {
			r.failed++
			r.recorder.AppendFailure(c.Ref(), err)
			r.deps.Metrics.RecordDeletion(string(resource.KindDataExtension), string(audit.StatusFailure))
			r.logger.Error("Failed to delete data extension",
				zap.String("customer_key", c.CustomerKey),
				zap.String("name", c.Name),
				zap.Error(err))
		} else {
			r.recorder.AppendSuccess(c.Ref())
			r.undo = append(r.undo, audit.SchemaOf(c))
			r.deps.Metrics.RecordDeletion(string(resource.KindDataExtension), string(audit.StatusSuccess))
			r.logger.Info("Deleted data extension",
				zap.String("customer_key", c.CustomerKey),
				zap.String("name", c.Name))
		}

		processed++
		r.checkpointEvery(ctx, processed)
	}

	if r.failed > 0 {
		for _, n := range r.plannedFolders {
			r.recorder.AppendSkipped(n.Ref(), "data extension deletions failed")
		}
		return StageReport, nil
	}

	blocked := map[string]bool{}
	for _, n := range r.plannedFolders {
		if blocked[n.ID] {
			r.recorder.AppendSkipped(n.Ref(), "a subfolder could not be deleted")
			blocked[n.ParentID] = true
			continue
		}
		if err := r.pace(ctx); err != nil {
			return "", ErrCancelled
		}

		err := r.deps.Gateway.DeleteFolder(ctx, n.ID)
		if err != nil {
			r.failed++
			blocked[n.ParentID] = true
			r.recorder.AppendFailure(n.Ref(), err)
			r.deps.Metrics.RecordDeletion(string(resource.KindFolder), string(audit.StatusFailure))
			r.logger.Error("Failed to delete folder",
				zap.String("folder_id", n.ID),
				zap.String("name", n.Name),
				zap.Error(err))
		} else {
			r.foldersDeleted = true
			r.recorder.AppendSuccess(n.Ref())
			r.deps.Metrics.RecordDeletion(string(resource.KindFolder), string(audit.StatusSuccess))
			r.logger.Info("Deleted folder",
				zap.String("folder_id", n.ID),
				zap.String("name", n.Name))
		}

		processed++
		r.checkpointEvery(ctx, processed)
	}
	r.invalidateFolders()
	return StageReport, nil
}

// pace enforces the delay between delete calls and is the cancellation
// checkpoint of the execution loop.
func (r *run) pace(ctx context.Context) error {
	if r.calls > 0 {
		if err := r.sleep(ctx, r.opts.Delay); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.calls++
	return nil
}

func (r *run) checkpointEvery(ctx context.Context, processed int) {
	if processed%r.opts.BatchSize != 0 {
		return
	}
	if err := r.recorder.Checkpoint(context.WithoutCancel(ctx)); err != nil {
		r.logger.Error("Failed to checkpoint operation state", zap.Error(err))
	}
}

func (r *run) invalidateFolders() {
	if !r.foldersDeleted {
		return
	}
	if err := r.deps.Resolver.Invalidate(r.tenant); err != nil {
		r.logger.Warn("Failed to invalidate folder cache", zap.Error(err))
	}
	r.foldersDeleted = false
}

func (r *run) saveUndo(ctx context.Context) {
	if r.undoSaved || len(r.undo) == 0 {
		return
	}
	if err := r.deps.Store.SaveArtifact(ctx, r.operationID, audit.ArtifactUndo, r.undo); err != nil {
		r.logger.Error("Failed to save undo artifact", zap.Error(err))
		return
	}
	r.undoSaved = true
}

// finish is the REPORT stage of a run that reached the end of execution.
func (r *run) finish(ctx context.Context) (Stage, error) {
	persist := context.WithoutCancel(ctx)
	r.saveUndo(persist)

	totals := r.recorder.Totals()
	code := ExitSuccess
	if totals.Failed > 0 {
		code = ExitFailure
		r.err = fmt.Errorf("%d of %d deletions failed", totals.Failed, totals.Failed+totals.Succeeded)
		if err := r.recorder.Checkpoint(persist); err != nil {
			r.logger.Error("Failed to persist operation state", zap.Error(err))
		}
	} else if err := r.recorder.ClearState(persist); err != nil {
		r.logger.Warn("Failed to clear operation state", zap.Error(err))
	}

	r.logger.Info("Deletion finished",
		zap.Int("succeeded", totals.Succeeded),
		zap.Int("failed", totals.Failed),
		zap.Int("skipped", totals.Skipped))
	r.complete(persist, code)
	return stageDone, nil
}

// abort ends a run that left the state machine with an error.
func (r *run) abort(ctx context.Context, stage Stage, err error) (*Report, error) {
	if errors.Is(err, context.Canceled) {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	code := ExitCodeFor(err)
	persist := context.WithoutCancel(ctx)

	if stage == StageExecute && r.recorder != nil {
		r.invalidateFolders()
		r.saveUndo(persist)
		if cpErr := r.recorder.Checkpoint(persist); cpErr != nil {
			r.logger.Error("Failed to persist operation state", zap.Error(cpErr))
		} else if errors.Is(err, ErrCancelled) {
			r.logger.Warn("Operation interrupted, progress saved; resume with the operation id",
				zap.Int("processed", len(r.recorder.Outcomes())),
				zap.Int("remaining", len(r.recorder.Remaining())))
		}
	}

	if code == ExitAborted {
		r.logger.Warn("Operation aborted", zap.String("stage", string(stage)), zap.Error(err))
	} else {
		r.logger.Error("Operation failed", zap.String("stage", string(stage)), zap.Error(err))
	}

	r.complete(persist, code)
	return r.report, err
}

// complete saves the audit record, delivers the summary and fills the report.
func (r *run) complete(ctx context.Context, code int) {
	r.report.ExitCode = code
	r.deps.Metrics.RecordRun(code, r.now().Sub(r.startedAt))
	if r.recorder == nil {
		return
	}

	r.report.Outcomes = r.recorder.Outcomes()
	r.report.Totals = r.recorder.Totals()

	rec, err := r.recorder.Save(ctx, code)
	if err != nil {
		r.logger.Error("Failed to save audit record", zap.Error(err))
		if code == ExitSuccess {
			r.report.ExitCode = ExitFailure
			r.err = fmt.Errorf("save audit record: %w", err)
		}
		return
	}
	r.report.Record = rec

	if r.deps.Notifier != nil {
		if err := r.deps.Notifier.Notify(ctx, notify.SummaryOf(rec)); err != nil {
			r.logger.Warn("Failed to deliver run summary", zap.Error(err))
		}
	}
}
