package pipeline

import (
	"context"
	"testing"

	"github.com/overlapdiarize/pipeline/internal/asr"
	"github.com/overlapdiarize/pipeline/internal/config"
	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/overlapdiarize/pipeline/internal/llmclient"
	"github.com/overlapdiarize/pipeline/internal/progress"
	"github.com/overlapdiarize/pipeline/internal/segment"
	"github.com/overlapdiarize/pipeline/internal/separation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTranscriber returns a fixed diarization regardless of mode, tagging
// the single segment's text with the mode so stem vs. primary calls are
// distinguishable in assertions.
type fakeTranscriber struct {
	name string
}

func (f fakeTranscriber) Name() string { return f.name }

func (f fakeTranscriber) Transcribe(ctx context.Context, req asr.Request, sink progress.Sink) (*segment.Diarization, error) {
	text := "hello there how are you"
	if req.Mode == asr.ModeChannel {
		text = "stem transcript for " + req.AudioRef
	}
	return &segment.Diarization{
		Recording: segment.Recording{
			Results: map[string]segment.ServiceResult{
				f.name: {Segments: []segment.Segment{
					{Speaker: "SPEAKER_00", Text: text, Start: 0, End: 2},
				}},
			},
		},
	}, nil
}

type fakeSeparator struct{}

func (fakeSeparator) Name() string { return "PyAnnote" }

func (fakeSeparator) Separate(ctx context.Context, req separation.Request, sink progress.Sink) (*separation.Result, error) {
	return &separation.Result{
		TaskID: "task-1",
		Stems: []separation.Stem{
			{Name: "SPEAKER_00", AudioRef: "/tmp/stem0.wav"},
		},
	}, nil
}

type fakeChat struct{}

func (fakeChat) Name() string { return "fast" }

func (fakeChat) Chat(ctx context.Context, req llmclient.Request) (string, error) {
	return "", &errs.TransientError{Vendor: "fast", Err: context.DeadlineExceeded}
}

func newTestOrchestrator() *Orchestrator {
	asrRouter := asr.NewRouter(map[string]asr.Transcriber{
		"SpeechmaticsBatch": fakeTranscriber{name: "SpeechmaticsBatch"},
	}, "SpeechmaticsBatch")
	sepRouter := separation.NewRouter(map[string]separation.Separator{
		"PyAnnote": fakeSeparator{},
	}, "PyAnnote")
	chatRouter := llmclient.NewRouter(map[string]llmclient.ChatModel{
		"fast": fakeChat{},
	}, "fast")

	return New(Deps{
		ASR:        asrRouter,
		Separation: sepRouter,
		Chat:       chatRouter,
		Timeouts:   config.DefaultStepTimeouts(),
		StemFanout: 2,
	})
}

func TestRunCompletesFullStateMachineWithoutGroundTruth(t *testing.T) {
	orch := newTestOrchestrator()
	var events []progress.Event
	sink := progress.Sink(func(e progress.Event) { events = append(events, e) })

	req := Request{
		RequestID:      "req-1",
		BaseName:       "call.wav",
		Language:       "en",
		SpeakerHint:    "auto",
		ASREngine:      "SpeechmaticsBatch",
		SeparationMode: "PyAnnote",
		LLMMode:        "fast",
		Models:         config.RunConfig{FastModelID: "gpt-4o-mini"},
	}

	result, err := orch.Run(context.Background(), req, sink)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, "req-1", result.RequestID)
	assert.Equal(t, "PyAnnote", result.PipelineMode)
	assert.Nil(t, result.GroundTruthMetrics)
	assert.NotEmpty(t, result.MarkdownTable)
	assert.NotEmpty(t, result.CorrectedDiarization)
	assert.NotEmpty(t, result.Steps)

	var sawStep7Skipped bool
	for _, s := range result.Steps {
		if s.Step == "step7-scoring" {
			sawStep7Skipped = s.Status == "skipped"
		}
	}
	assert.True(t, sawStep7Skipped, "step7-scoring should be skipped without ground_truth")

	var sawFinal bool
	for _, e := range events {
		if e.Type == "final-result" {
			sawFinal = true
		}
	}
	assert.True(t, sawFinal, "sink should receive a final-result event")
}

func TestRunScoresAgainstGroundTruthWhenProvided(t *testing.T) {
	orch := newTestOrchestrator()

	req := Request{
		RequestID:      "req-2",
		BaseName:       "call.wav",
		Language:       "en",
		SpeakerHint:    "auto",
		ASREngine:      "SpeechmaticsBatch",
		SeparationMode: "PyAnnote",
		LLMMode:        "fast",
		GroundTruth:    "hello there how are you",
		Models:         config.RunConfig{FastModelID: "gpt-4o-mini"},
	}

	result, err := orch.Run(context.Background(), req, nil)
	require.NoError(t, err)
	require.NotNil(t, result.GroundTruthMetrics)
}

func TestRunFailsStepOneWhenASREngineUnknownAndNoFallback(t *testing.T) {
	asrRouter := asr.NewRouter(map[string]asr.Transcriber{}, "missing")
	sepRouter := separation.NewRouter(map[string]separation.Separator{"PyAnnote": fakeSeparator{}}, "PyAnnote")
	chatRouter := llmclient.NewRouter(map[string]llmclient.ChatModel{"fast": fakeChat{}}, "fast")
	orch := New(Deps{ASR: asrRouter, Separation: sepRouter, Chat: chatRouter, Timeouts: config.DefaultStepTimeouts()})

	req := Request{RequestID: "req-3", BaseName: "call.wav", ASREngine: "SpeechmaticsBatch", SeparationMode: "PyAnnote", LLMMode: "fast"}
	result, err := orch.Run(context.Background(), req, nil)

	assert.Nil(t, result)
	require.Error(t, err)
	var stepErr *errs.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Step)
}
