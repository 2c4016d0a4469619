// Package roleclassifier implements the Role Classifier (§4.4): for each
// separated stem, decide whether the speaker is the Agent (operator) or
// the Client from the stem's plain transcript.
package roleclassifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/overlapdiarize/pipeline/internal/cache"
	"github.com/overlapdiarize/pipeline/internal/jsonsalvage"
	"github.com/overlapdiarize/pipeline/internal/llmclient"
	"github.com/tidwall/gjson"
)

// Role is the classifier's output role, distinct from segment.Role because
// "Unknown" is a valid classifier result but never a valid merged-segment
// speaker (§4.4, §4.5).
type Role string

const (
	RoleAgent   Role = "Agent"
	RoleClient  Role = "Client"
	RoleUnknown Role = "Unknown"
)

// Result is the classifier's contract output (§4.4).
type Result struct {
	Role       Role    `json:"role"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

const systemPrompt = `You are classifying a single speaker's transcript from a two-party support call. ` +
	`Decide whether this speaker is the Agent (the operator handling the call) or the Client (the caller). ` +
	`Respond with strict JSON only: {"role": "Agent"|"Client", "confidence": 0.0-1.0, "summary": "one sentence"}.`

// heuristicMarkers are phrases that, if present, suggest the speaker is the
// Agent — used only when the LLM call fails (§4.4 fallback).
var heuristicMarkers = []string{"help", "can i", "how can"}

// Classifier classifies one stem transcript at a time.
type Classifier struct {
	chat  llmclient.ChatModel
	model string
	cache *cache.Store
}

// New builds a Classifier against a chat backend, a resolved model ID, and
// an optional cache store (nil disables caching).
func New(chat llmclient.ChatModel, model string, store *cache.Store) *Classifier {
	return &Classifier{chat: chat, model: model, cache: store}
}

// Classify implements the §4.4 contract including the empty-transcript
// short-circuit (B1) and the cache/heuristic fallback chain.
func (c *Classifier) Classify(ctx context.Context, transcript, language, mode string) (Result, error) {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		return Result{Role: RoleUnknown, Confidence: 0, Summary: "No speech detected."}, nil
	}

	key := cache.RoleKey(trimmed, language, mode)
	if c.cache != nil {
		var cached Result
		if c.cache.Get(key, &cached) == cache.Hit {
			return cached, nil
		}
	}

	result, err := c.classifyViaLLM(ctx, trimmed)
	if err != nil {
		return heuristic(trimmed), nil
	}

	if c.cache != nil {
		_ = c.cache.Put(key, result)
	}
	return result, nil
}

func (c *Classifier) classifyViaLLM(ctx context.Context, transcript string) (Result, error) {
	raw, err := c.chat.Chat(ctx, llmclient.Request{
		Model:       c.model,
		System:      systemPrompt,
		User:        transcript,
		Temperature: 0,
	})
	if err != nil {
		// Some reasoning-model backends leave content empty and put the
		// whole JSON answer in their reasoning trace instead; try to
		// salvage it before giving up (§4.4).
		var emptyErr *llmclient.EmptyContentError
		if errors.As(err, &emptyErr) && emptyErr.Reasoning != "" {
			raw = emptyErr.Reasoning
		} else {
			return Result{}, err
		}
	}

	jsonText, ok := jsonsalvage.Recover(raw)
	if !ok {
		return Result{}, fmt.Errorf("roleclassifier: no salvageable JSON in LLM output")
	}

	parsed := gjson.Parse(jsonText)
	role := Role(parsed.Get("role").String())
	if role != RoleAgent && role != RoleClient {
		return Result{}, fmt.Errorf("roleclassifier: invalid role %q", role)
	}
	return Result{
		Role:       role,
		Confidence: parsed.Get("confidence").Float(),
		Summary:    parsed.Get("summary").String(),
	}, nil
}

// heuristic is the LLM-failure fallback (§4.4). Its result is never cached.
func heuristic(transcript string) Result {
	lower := strings.ToLower(transcript)
	for _, marker := range heuristicMarkers {
		if strings.Contains(lower, marker) {
			return Result{Role: RoleAgent, Confidence: 0.5, Summary: "Heuristic classification."}
		}
	}
	return Result{Role: RoleClient, Confidence: 0.5, Summary: "Heuristic classification."}
}
