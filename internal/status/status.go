// Package status answers "how is run X doing?" by reconciling the
// ephemeral snapshot with the durable job record.
package status

import (
	"context"
	"errors"

	"github.com/scriptgen/backend/internal/cache"
	"github.com/scriptgen/backend/internal/db"
	"github.com/scriptgen/backend/internal/logger"
)

// Normalized job states.
const (
	StateProcessing = "processing"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Messages used when no snapshot is available.
const (
	MessageCompleted      = "Transcription completed!"
	MessageFailed         = "Transcription failed"
	MessageBatchCompleted = "Download completed"
	MessageBatchFailed    = "Download failed"
	MessageProcessing     = "Processing video..."
	FallbackProgress      = 50
)

// Source tells which store produced a status.
type Source string

const (
	SourceCache    Source = "cache"
	SourceDatabase Source = "database"
	SourceDefault  Source = "default"
)

// NormalizedStatus is the uniform shape returned to pollers.
type NormalizedStatus struct {
	TaskID   string                 `json:"task_id"`
	JobID    string                 `json:"script_id,omitempty"`
	Status   string                 `json:"status"`
	Progress int                    `json:"progress"`
	Message  string                 `json:"message"`
	Extra    map[string]interface{} `json:"result,omitempty"`
	Source   Source                 `json:"-"`
}

// IsTerminal reports whether the run has finished.
func (s *NormalizedStatus) IsTerminal() bool {
	return s.Status == StateCompleted || s.Status == StateFailed
}

// ScriptLookup reads transcription records.
type ScriptLookup interface {
	GetByID(ctx context.Context, id string) (*db.Script, error)
}

// BatchLookup reads batch records.
type BatchLookup interface {
	GetByID(ctx context.Context, id string) (*db.BatchJob, error)
}

// Reconciler is read-only and safe for concurrent use.
type Reconciler struct {
	cache   cache.Store
	scripts ScriptLookup
	batches BatchLookup
	log     *logger.Logger
}

func NewReconciler(store cache.Store, scripts ScriptLookup, batches BatchLookup, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Default()
	}
	return &Reconciler{
		cache:   store,
		scripts: scripts,
		batches: batches,
		log:     log.WithComponent("status"),
	}
}

// GetStatus resolves a run's status. jobID may be empty, in which case the
// run association is consulted. It never fails: store errors degrade to
// the default answer.
func (r *Reconciler) GetStatus(ctx context.Context, runID, jobID string) *NormalizedStatus {
	return r.resolve(ctx, "", runID, jobID)
}

// GetBatchStatus is GetStatus for runs known to be downloads, batch or
// single video.
func (r *Reconciler) GetBatchStatus(ctx context.Context, runID, jobID string) *NormalizedStatus {
	return r.resolve(ctx, cache.KindBatch, runID, jobID)
}

func (r *Reconciler) resolve(ctx context.Context, kind cache.Kind, runID, jobID string) *NormalizedStatus {
	snap, err := r.cache.GetSnapshot(ctx, runID)
	if err != nil {
		r.log.Warn(ctx, "snapshot lookup failed", map[string]interface{}{"run_id": runID, "error": err.Error()})
	}
	if snap != nil {
		return FromSnapshot(snap, jobID)
	}

	if jobID == "" || kind == "" {
		assoc, err := r.cache.GetAssociation(ctx, runID)
		if err != nil {
			r.log.Warn(ctx, "association lookup failed", map[string]interface{}{"run_id": runID, "error": err.Error()})
		}
		if assoc != nil {
			if jobID == "" {
				jobID = assoc.JobID
			}
			if kind == "" {
				kind = assoc.Kind
			}
		}
	}

	if jobID != "" {
		var st *NormalizedStatus
		if kind.Download() {
			st = r.fromBatch(ctx, runID, jobID)
		} else {
			st = r.fromScript(ctx, runID, jobID)
		}
		if st != nil {
			return st
		}
	}

	return &NormalizedStatus{
		TaskID:   runID,
		JobID:    jobID,
		Status:   StateProcessing,
		Progress: FallbackProgress,
		Message:  MessageProcessing,
		Source:   SourceDefault,
	}
}

// FromSnapshot normalizes a live snapshot. jobID fills in a missing job id.
func FromSnapshot(snap *cache.Snapshot, jobID string) *NormalizedStatus {
	st := &NormalizedStatus{
		TaskID:   snap.RunID,
		JobID:    snap.JobID,
		Progress: snap.Progress,
		Message:  snap.Message,
		Extra:    snap.Extra,
		Source:   SourceCache,
	}
	if st.JobID == "" {
		st.JobID = jobID
	}
	switch snap.State {
	case cache.StateSuccess:
		st.Status = StateCompleted
	case cache.StateFailure:
		st.Status = StateFailed
	default:
		st.Status = StateProcessing
	}
	return st
}

func (r *Reconciler) fromScript(ctx context.Context, runID, jobID string) *NormalizedStatus {
	if r.scripts == nil {
		return nil
	}
	script, err := r.scripts.GetByID(ctx, jobID)
	if err != nil {
		if !errors.Is(err, db.ErrScriptNotFound) {
			r.log.Warn(ctx, "script lookup failed", map[string]interface{}{"script_id": jobID, "error": err.Error()})
		}
		return nil
	}
	switch script.Status {
	case db.StatusCompleted:
		return &NormalizedStatus{TaskID: runID, JobID: jobID, Status: StateCompleted, Progress: 100, Message: MessageCompleted, Source: SourceDatabase}
	case db.StatusFailed:
		return &NormalizedStatus{TaskID: runID, JobID: jobID, Status: StateFailed, Progress: 0, Message: orDefault(script.ErrorMessage, MessageFailed), Source: SourceDatabase}
	}
	return nil
}

func (r *Reconciler) fromBatch(ctx context.Context, runID, jobID string) *NormalizedStatus {
	if r.batches == nil {
		return nil
	}
	batch, err := r.batches.GetByID(ctx, jobID)
	if err != nil {
		if !errors.Is(err, db.ErrBatchNotFound) {
			r.log.Warn(ctx, "batch lookup failed", map[string]interface{}{"batch_id": jobID, "error": err.Error()})
		}
		return nil
	}
	switch batch.Status {
	case db.StatusCompleted:
		extra := map[string]interface{}{
			"succeeded": batch.Succeeded,
			"failed":    batch.Failed,
		}
		if batch.ArchivePath != nil {
			extra["file_path"] = *batch.ArchivePath
		}
		if batch.ArchiveURL != nil && *batch.ArchiveURL != "" {
			extra["download_url"] = *batch.ArchiveURL
		}
		return &NormalizedStatus{TaskID: runID, JobID: jobID, Status: StateCompleted, Progress: 100, Message: MessageBatchCompleted, Extra: extra, Source: SourceDatabase}
	case db.StatusFailed:
		return &NormalizedStatus{TaskID: runID, JobID: jobID, Status: StateFailed, Progress: 0, Message: orDefault(batch.ErrorMessage, MessageBatchFailed), Source: SourceDatabase}
	}
	return nil
}

func orDefault(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
