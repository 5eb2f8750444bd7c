package audit

import (
	"context"
	"time"

	"github.com/natserract/sfclean/pkg/resource"
	"go.uber.org/zap"
)

// Recorder accumulates the outcome log of one run. It is used from the
// single execution loop and is not safe for concurrent use.
type Recorder struct {
	store     Store
	logger    *zap.Logger
	now       func() time.Time
	record    Record
	remaining []resource.Item
}

// NewRecorder starts a record from meta. Outcomes, totals, exit code and
// completion time are filled in by the recorder.
func NewRecorder(store Store, meta Record, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{store: store, logger: logger, now: time.Now, record: meta}
	if r.record.StartedAt.IsZero() {
		r.record.StartedAt = r.now().UTC()
	}
	return r
}

// OperationID of the run.
func (r *Recorder) OperationID() string {
	return r.record.OperationID
}

// SetCounts stores the pre-execution counts.
func (r *Recorder) SetCounts(c Counts) {
	r.record.Counts = c
}

// Restore carries forward outcomes from a previous attempt.
func (r *Recorder) Restore(prior *State) {
	if prior == nil {
		return
	}
	r.record.Outcomes = append(r.record.Outcomes, prior.Processed...)
}

// SetRemaining sets the items still to be processed, in execution order.
func (r *Recorder) SetRemaining(items []resource.Item) {
	r.remaining = append([]resource.Item(nil), items...)
}

// Remaining returns the items not yet processed.
func (r *Recorder) Remaining() []resource.Item {
	return append([]resource.Item(nil), r.remaining...)
}

// AppendSuccess logs a deleted item.
func (r *Recorder) AppendSuccess(item resource.Item) {
	r.append(Outcome{Item: item, Status: StatusSuccess})
}

// AppendFailure logs a failed item.
func (r *Recorder) AppendFailure(item resource.Item, err error) {
	o := Outcome{Item: item, Status: StatusFailure}
	if err != nil {
		o.Error = err.Error()
	}
	r.append(o)
}

// AppendSkipped logs an item that was deliberately not deleted.
func (r *Recorder) AppendSkipped(item resource.Item, reason string) {
	r.append(Outcome{Item: item, Status: StatusSkipped, Error: reason})
}

func (r *Recorder) append(o Outcome) {
	o.Timestamp = r.now().UTC()
	r.record.Outcomes = append(r.record.Outcomes, o)
	for i, it := range r.remaining {
		if it.Kind == o.Item.Kind && it.ID == o.Item.ID {
			r.remaining = append(r.remaining[:i], r.remaining[i+1:]...)
			break
		}
	}
}

// Outcomes returns a copy of the outcome log.
func (r *Recorder) Outcomes() []Outcome {
	return append([]Outcome(nil), r.record.Outcomes...)
}

// Totals counts the outcome log.
func (r *Recorder) Totals() Totals {
	var t Totals
	for _, o := range r.record.Outcomes {
		switch o.Status {
		case StatusSuccess:
			t.Succeeded++
		case StatusFailure:
			t.Failed++
		case StatusSkipped:
			t.Skipped++
		}
	}
	return t
}

// State snapshots the resumable progress.
func (r *Recorder) State() *State {
	return &State{
		OperationID:      r.record.OperationID,
		Tenant:           r.record.Tenant,
		TargetFolderPath: r.record.TargetFolder,
		Processed:        r.Outcomes(),
		Remaining:        r.Remaining(),
		UpdatedAt:        r.now().UTC(),
	}
}

// Checkpoint persists the current state.
func (r *Recorder) Checkpoint(ctx context.Context) error {
	state := r.State()
	if err := r.store.SaveState(ctx, state); err != nil {
		return err
	}
	r.logger.Debug("Checkpointed operation state",
		zap.String("operation_id", state.OperationID),
		zap.Int("processed", len(state.Processed)),
		zap.Int("remaining", len(state.Remaining)))
	return nil
}

// ClearState removes the persisted state.
func (r *Recorder) ClearState(ctx context.Context) error {
	return r.store.ClearState(ctx, r.record.OperationID)
}

// Save writes the final record tagged with exitCode and returns it.
func (r *Recorder) Save(ctx context.Context, exitCode int) (*Record, error) {
	rec := r.record
	rec.Outcomes = r.Outcomes()
	rec.Totals = r.Totals()
	rec.ExitCode = exitCode
	rec.CompletedAt = r.now().UTC()
	if err := r.store.SaveRecord(ctx, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
