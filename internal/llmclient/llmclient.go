// Package llmclient implements the Chat-LLM Adapter (§4.2): a single
// chat(model, system, user, temperature, reasoning_effort?, stop?) contract
// over a remote and a local OpenAI-compatible backend, selected by
// llm_mode. Vendor JSON never crosses this package's boundary.
package llmclient

import (
	"context"
	"fmt"

	"github.com/overlapdiarize/pipeline/internal/routing"
)

// Request parameterizes one chat call (§4.2).
type Request struct {
	Model           string
	System          string
	User            string
	Temperature     float64
	ReasoningEffort string // only honored by remote back-ends
	Stop            []string
}

// ChatModel is the narrow contract every Chat-LLM back-end implements.
type ChatModel interface {
	Chat(ctx context.Context, req Request) (string, error)
	Name() string
}

// Router dispatches by llm_mode to a ChatModel.
type Router = routing.Router[ChatModel]

// NewRouter builds a chat router keyed by mode name with a fallback.
func NewRouter(backends map[string]ChatModel, fallback string) *Router {
	return routing.NewRouter(backends, fallback)
}

// EmptyContentError is returned when a backend's message content comes back
// empty. Some reasoning-model backends put their entire answer in a
// `delta.reasoning` stream field instead of `delta.content` when they judge
// the answer "already said" in their reasoning trace; Reasoning carries
// whatever text the stream accumulated there, if any, so callers can attempt
// jsonsalvage.Recover on it before giving up (§4.2).
type EmptyContentError struct {
	Vendor    string
	Reasoning string
}

func (e *EmptyContentError) Error() string {
	return fmt.Sprintf("empty content from %s", e.Vendor)
}
