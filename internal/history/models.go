package history

import "time"

// RunRecord is one pipeline execution (§3 RunRecord, §4.11).
type RunRecord struct {
	ID          string     `json:"id"`
	RequestID   string     `json:"request_id"`
	PipelineMode string    `json:"pipeline_mode"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	DurationMs  float64    `json:"duration_ms,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// StepRecord is one state-machine transition within a run (§4.10, §4.11).
type StepRecord struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Step       string    `json:"step"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs float64   `json:"duration_ms"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	Error      string    `json:"error,omitempty"`
}
