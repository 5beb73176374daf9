package websocket

import (
	"github.com/scriptgen/backend/internal/cache"
	"github.com/scriptgen/backend/internal/status"
)

// MessageTypeProgress tags every frame sent to progress watchers.
const MessageTypeProgress = "progress"

// ProgressMessage is one status frame.
type ProgressMessage struct {
	Type     string                 `json:"type"`
	TaskID   string                 `json:"task_id"`
	ScriptID string                 `json:"script_id,omitempty"`
	Status   string                 `json:"status"`
	Progress int                    `json:"progress"`
	Message  string                 `json:"message"`
	Result   map[string]interface{} `json:"result,omitempty"`
}

// Terminal reports whether no further frames will follow.
func (m *ProgressMessage) Terminal() bool {
	return m.Status == status.StateCompleted || m.Status == status.StateFailed
}

func messageFromStatus(st *status.NormalizedStatus) *ProgressMessage {
	return &ProgressMessage{
		Type:     MessageTypeProgress,
		TaskID:   st.TaskID,
		ScriptID: st.JobID,
		Status:   st.Status,
		Progress: st.Progress,
		Message:  st.Message,
		Result:   st.Extra,
	}
}

func messageFromSnapshot(snap *cache.Snapshot, jobID string) *ProgressMessage {
	return messageFromStatus(status.FromSnapshot(snap, jobID))
}
