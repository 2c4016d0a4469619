package markdown

import (
	"context"
	"testing"

	"github.com/overlapdiarize/pipeline/internal/llmclient"
	"github.com/overlapdiarize/pipeline/internal/segment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChat struct {
	response string
	err      error
}

func (s *stubChat) Chat(ctx context.Context, req llmclient.Request) (string, error) {
	return s.response, s.err
}

func (s *stubChat) Name() string { return "stub" }

func TestBuildContextFiltersRawDialoguesToPrimarySpeakers(t *testing.T) {
	merged := []segment.Segment{
		{Speaker: "SPEAKER_00", Text: "hello", Start: 0, End: 1},
		{Speaker: "SPEAKER_02", Text: "noise", Start: 1, End: 2},
	}
	c := BuildContext(merged, nil, nil, "")
	assert.Contains(t, c.RawDialogues, "SPEAKER_00")
	assert.NotContains(t, c.RawDialogues, "SPEAKER_02")
}

func TestGenerateFallsBackToDeterministicTableOnLLMFailure(t *testing.T) {
	g := &Generator{Chat: &stubChat{err: assert.AnError}, Model: "fast"}
	merged := []segment.Segment{
		{Role: segment.RoleAgent, Text: "hi", Start: 0, End: 1},
		{Role: segment.RoleClient, Text: "hello", Start: 1, End: 2},
	}
	out := g.Generate(context.Background(), merged, Context{}, false)
	assert.Contains(t, out, "Segment ID")
	assert.Contains(t, out, "Agent")
	assert.Contains(t, out, "Client")
}

func TestBuildDeterministicTableDropsNonAgentClientSpeakers(t *testing.T) {
	merged := []segment.Segment{
		{Role: segment.RoleAgent, Text: "hi", Start: 0, End: 1},
		{Role: segment.RoleUnknown, Text: "noise", Start: 1, End: 2},
	}
	out := BuildDeterministicTable(merged)
	assert.Contains(t, out, "hi")
	assert.NotContains(t, out, "noise")
}

func TestMultiStepFailsWhenFormatStepIsEmpty(t *testing.T) {
	g := &Generator{Chat: &stubChat{response: ""}, Model: "local"}
	_, err := g.runMultiStep(context.Background(), Context{})
	require.Error(t, err)
}

func TestCachedChatFallsBackToReasoningOnEmptyContent(t *testing.T) {
	g := &Generator{
		Chat: &stubChat{err: &llmclient.EmptyContentError{
			Vendor:    "stub",
			Reasoning: "| Segment ID | Speaker | Text | Start Time | End Time |\n|---|---|---|---|---|\n| 1 | Agent | hi | 0.00 | 1.00 |\n",
		}},
		Model: "fast",
	}
	table, err := g.cachedChat(context.Background(), "prompt", "markdown-single-shot")
	require.NoError(t, err)
	assert.Contains(t, table, "Agent")
}
