package domain

import "time"

type RunEventType string

const (
	EventRunStarted     RunEventType = "run_started"
	EventStageStarted   RunEventType = "stage_started"
	EventStageCommitted RunEventType = "stage_committed"
	EventStageFailed    RunEventType = "stage_failed"
	EventRunCompleted   RunEventType = "run_completed"
	EventRunFailed      RunEventType = "run_failed"
)

// RunEvent is the live-progress notification published as a run advances.
// It is advisory only; the audit trail is the authoritative record.
type RunEvent struct {
	RunID   string       `json:"run_id"`
	Type    RunEventType `json:"type"`
	Stage   string       `json:"stage,omitempty"`
	Seq     int64        `json:"seq,omitempty"`
	Status  RunStatus    `json:"status,omitempty"`
	Cause   FailureCause `json:"cause,omitempty"`
	Message string       `json:"message,omitempty"`
	At      time.Time    `json:"at"`
}
