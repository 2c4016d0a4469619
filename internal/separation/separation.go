// Package separation implements the Separation Adapter (§4.2): splitting a
// mixed recording into per-speaker stems via one of three back-ends.
package separation

import (
	"context"

	"github.com/overlapdiarize/pipeline/internal/progress"
	"github.com/overlapdiarize/pipeline/internal/routing"
)

// Mode selects the separation back-end (§3 Request.pipeline_mode).
type Mode string

const (
	ModeAudioShake  Mode = "AudioShake"
	ModePyAnnote    Mode = "PyAnnote"
	ModeSpeechBrain Mode = "SpeechBrain"
)

// Stem is one isolated-speaker audio file produced by a separator (§4.2).
type Stem struct {
	Name         string
	AudioRef     string
	IsBackground bool
	Format       string
}

// DebugParams carries SpeechBrain's optional chunked/spectral-gating knobs (§4.2, §6).
type DebugParams struct {
	ChunkSeconds         float64
	EnableSpectralGating bool
	GateThreshold        float64
	GateAlpha            float64
}

// Request parameterizes one separate call.
type Request struct {
	AudioRef string
	Debug    DebugParams
}

// Result is the adapter's output (§4.2).
type Result struct {
	TaskID string
	Stems  []Stem
}

// Separator is the narrow contract every separation back-end implements (§4.2).
type Separator interface {
	Separate(ctx context.Context, req Request, sink progress.Sink) (*Result, error)
	Name() string
}

// Router dispatches by the Request.pipeline_mode enum (§3) to a Separator.
type Router = routing.Router[Separator]

// NewRouter builds a separation router keyed by mode name with a fallback.
func NewRouter(backends map[string]Separator, fallback string) *Router {
	return routing.NewRouter(backends, fallback)
}
