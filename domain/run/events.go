package run

import (
	"time"

	"neurodiff/domain/core"
)

// EventKind is the transition a StageEvent reports
type EventKind string

const (
	EventStageStarted  EventKind = "stage_started"
	EventStageFinished EventKind = "stage_finished"
	EventStageFailed   EventKind = "stage_failed"
	EventRunFinished   EventKind = "run_finished"
)

// StageEvent is a progress notification for one stage of a run.
type StageEvent struct {
	RunID     core.RunID `json:"run_id"`
	Kind      EventKind  `json:"kind"`
	Stage     core.Stage `json:"stage,omitempty"`
	Progress  float64    `json:"progress"` // completed stages / total stages
	ElapsedMs float64    `json:"elapsed_ms,omitempty"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
