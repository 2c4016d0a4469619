package history

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// maxFieldLen caps detail/error string lengths stored per step.
	maxFieldLen = 2000

	// channelBuffer is how many history messages can wait for the background
	// drain goroutine; once that many are pending, the sending call blocks.
	channelBuffer = 64
)

type recorderMsg struct {
	kind string // "run_create", "run_finish", "step"
	runID string
	requestID string
	pipelineMode string
	durationMs float64
	status string
	errMsg string
	step StepRecord
}

// Recorder writes run/step history asynchronously via a buffered channel, so
// the orchestrator's hot path does not wait on database writes while fewer
// than channelBuffer messages are pending; a full channel blocks the send. All methods
// are nil-safe (no-op on nil receiver), so a deployment with no
// RUN_HISTORY_DATABASE_URL configured degrades to doing nothing (§4.11, §6).
type Recorder struct {
	store *Store
	ch    chan recorderMsg
	done  chan struct{}
}

// NewRecorder starts the background drain goroutine bound to store. Pass a
// nil store to get a fully no-op Recorder.
func NewRecorder(store *Store) *Recorder {
	if store == nil {
		return nil
	}
	r := &Recorder{
		store: store,
		ch:    make(chan recorderMsg, channelBuffer),
		done:  make(chan struct{}),
	}
	go r.drain()
	return r
}

func (r *Recorder) drain() {
	defer close(r.done)
	for msg := range r.ch {
		if err := r.dispatch(msg); err != nil {
			log.Warn().Str("kind", msg.kind).Err(err).Msg("history write failed")
		}
	}
}

func (r *Recorder) dispatch(m recorderMsg) error {
	switch m.kind {
	case "run_create":
		return r.store.CreateRun(m.runID, m.requestID, m.pipelineMode)
	case "run_finish":
		return r.store.FinishRun(m.runID, m.durationMs, m.status, m.errMsg)
	case "step":
		return r.store.RecordStep(m.step)
	}
	return nil
}

// StartRun begins a new run and returns its ID.
func (r *Recorder) StartRun(requestID, pipelineMode string) string {
	id := uuid.NewString()
	if r == nil {
		return id
	}
	r.ch <- recorderMsg{kind: "run_create", runID: id, requestID: requestID, pipelineMode: pipelineMode}
	return id
}

// FinishRun finalizes a run with its terminal status.
func (r *Recorder) FinishRun(runID string, durationMs float64, status, errMsg string) {
	if r == nil {
		return
	}
	r.ch <- recorderMsg{kind: "run_finish", runID: runID, durationMs: durationMs, status: status, errMsg: truncate(errMsg, maxFieldLen)}
}

// RecordStep records one state-machine step transition (§4.10).
func (r *Recorder) RecordStep(runID, step string, startedAt time.Time, durationMs float64, status, detail, errMsg string) {
	if r == nil {
		return
	}
	r.ch <- recorderMsg{
		kind: "step",
		step: StepRecord{
			ID:         uuid.NewString(),
			RunID:      runID,
			Step:       step,
			StartedAt:  startedAt,
			DurationMs: durationMs,
			Status:     status,
			Detail:     truncate(detail, maxFieldLen),
			Error:      truncate(errMsg, maxFieldLen),
		},
	}
}

// Close drains pending writes and shuts down the background goroutine.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	close(r.ch)
	<-r.done
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
