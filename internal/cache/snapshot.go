package cache

import (
	"context"
	"time"
)

// State is the coarse state carried by a status snapshot.
type State string

const (
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

// Kind tells the reconciler which durable table owns a run's job.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindBatch         Kind = "batch"
	KindVideo         Kind = "video"
)

// Download reports whether jobs of this kind live in the batch table.
// Single-video downloads are stored as one-item batches.
func (k Kind) Download() bool {
	return k == KindBatch || k == KindVideo
}

const (
	// SnapshotTTL bounds how long a progress snapshot stays readable.
	SnapshotTTL = time.Hour
	// AssociationTTL bounds how long a run id resolves to its job id.
	AssociationTTL = 24 * time.Hour
)

// Snapshot is the latest progress of a run. It is advisory: the durable
// record is authoritative once the snapshot has expired.
type Snapshot struct {
	RunID     string                 `json:"task_id"`
	JobID     string                 `json:"script_id,omitempty"`
	Progress  int                    `json:"progress"`
	Message   string                 `json:"status"`
	State     State                  `json:"state"`
	Timestamp time.Time              `json:"timestamp"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Association links a run id to the job it is executing.
type Association struct {
	RunID string `json:"task_id"`
	JobID string `json:"script_id"`
	Kind  Kind   `json:"kind"`
}

// Store is the ephemeral status store. Lookups return nil, nil when the
// key is absent or expired.
type Store interface {
	PutSnapshot(ctx context.Context, snap *Snapshot) error
	GetSnapshot(ctx context.Context, runID string) (*Snapshot, error)
	PutAssociation(ctx context.Context, assoc *Association) error
	GetAssociation(ctx context.Context, runID string) (*Association, error)
}

// Subscription delivers snapshots for a single run.
type Subscription interface {
	Channel() <-chan *Snapshot
	Close() error
}

// Publisher is implemented by stores that broadcast snapshot writes.
type Publisher interface {
	Subscribe(ctx context.Context, runID string) (Subscription, error)
}

func snapshotKey(runID string) string     { return "task_result:" + runID }
func associationKey(runID string) string  { return "task:" + runID }
func progressChannel(runID string) string { return "progress:" + runID }
