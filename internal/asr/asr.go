// Package asr implements the ASR Adapter (§4.2): a uniform transcribe
// contract over three batch/realtime vendor back-ends, selected by the
// routing package. The orchestrator never sees vendor JSON — each backend
// translates its vendor shape into segment.Diarization at the boundary.
package asr

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/overlapdiarize/pipeline/internal/progress"
	"github.com/overlapdiarize/pipeline/internal/routing"
	"github.com/overlapdiarize/pipeline/internal/segment"
)

// openAudio opens a local audio file for streaming to a vendor request body.
func openAudio(path string) (*os.File, error) {
	return os.Open(path)
}

// Mode selects whether the engine should treat the input as a mixed
// recording or an already-isolated channel (§4.2). Channel mode is REQUIRED
// when transcribing a separated stem.
type Mode string

const (
	ModeMix     Mode = "mix"
	ModeChannel Mode = "channel"
)

// Request parameterizes one transcribe call.
type Request struct {
	AudioRef    string
	Language    string
	SpeakerHint string
	Mode        Mode
}

// Transcriber is the narrow contract every ASR back-end implements (§4.2).
type Transcriber interface {
	Transcribe(ctx context.Context, req Request, sink progress.Sink) (*segment.Diarization, error)
	Name() string
}

// Router dispatches by the Request.asr_engine enum (§3) to a Transcriber.
type Router = routing.Router[Transcriber]

// NewRouter builds an ASR router keyed by engine name with a fallback.
func NewRouter(backends map[string]Transcriber, fallback string) *Router {
	return routing.NewRouter(backends, fallback)
}

// vendorSegment is the narrow DTO every batch vendor's transcript list maps
// onto before being translated into segment.Segment (§6, §9 "duck-typed
// nested JSON from vendors" — never modeled more broadly than this).
type vendorSegment struct {
	Text    string       `json:"text"`
	Start   float64      `json:"start"`
	End     float64      `json:"end"`
	Speaker string       `json:"speaker,omitempty"`
	Words   []vendorWord `json:"words,omitempty"`
}

type vendorWord struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func toSegments(vs []vendorSegment) []segment.Segment {
	out := make([]segment.Segment, 0, len(vs))
	for i, v := range vs {
		words := make([]segment.Word, 0, len(v.Words))
		for _, w := range v.Words {
			words = append(words, segment.Word{Text: w.Text, Start: w.Start, End: w.End})
		}
		spk := v.Speaker
		if spk == "" {
			spk = segment.NormalizeSpeaker("", i%2)
		} else {
			spk = segment.NormalizeSpeaker(spk, i%2)
		}
		out = append(out, segment.SanitizeSegment(segment.Segment{
			Speaker: spk,
			Text:    v.Text,
			Start:   v.Start,
			End:     v.End,
			Words:   words,
			Source:  segment.SourcePrimary,
		}))
	}
	return out
}

func buildDiarization(engine, name string, language string, duration float64, segs []segment.Segment, rawMeta map[string]any) *segment.Diarization {
	speakers := map[string]bool{}
	for _, s := range segs {
		speakers[s.Speaker] = true
	}
	return &segment.Diarization{
		Recording: segment.Recording{
			ID:           name,
			Name:         name,
			Duration:     duration,
			Language:     language,
			SpeakerCount: len(speakers),
			Results: map[string]segment.ServiceResult{
				engine: {Segments: segs, SpeakerCount: len(speakers), RawMeta: rawMeta},
			},
		},
		ServicesTested: []string{engine},
	}
}

// pollState mirrors the batch job lifecycle shared by every batch vendor (§6).
type pollState string

const (
	stateQueued    pollState = "queued"
	stateRunning   pollState = "running"
	stateSucceeded pollState = "succeeded"
	stateFailed    pollState = "failed"
)

func emitPoll(sink progress.Sink, requestID, step string, attempt, total int, status pollState, detail string) {
	progress.Emit(sink, progress.Event{
		Type:        "step-progress",
		Step:        step,
		Status:      string(status),
		Description: detail,
		RequestID:   requestID,
		Details: map[string]any{
			"attempt": attempt,
			"total":   total,
		},
	})
}

// pollInterval is how frequently a batch adapter checks job state.
const pollInterval = 2 * time.Second

// waitTerminal polls fn until it reports a terminal state or ctx expires.
func waitTerminal(ctx context.Context, maxPolls int, fn func(attempt int) (pollState, error)) (pollState, error) {
	for attempt := 1; attempt <= maxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return stateFailed, ctx.Err()
		default:
		}
		state, err := fn(attempt)
		if err != nil {
			return stateFailed, err
		}
		if state == stateSucceeded || state == stateFailed {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return stateFailed, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return stateFailed, fmt.Errorf("asr poll: exceeded %d attempts without reaching a terminal state", maxPolls)
}
