package roleclassifier

import (
	"context"
	"testing"

	"github.com/overlapdiarize/pipeline/internal/llmclient"
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

func TestClassifyEmptyTranscriptShortCircuits(t *testing.T) {
	c := New(&stubChat{err: assert.AnError}, "model", nil)
	res, err := c.Classify(context.Background(), "   ", "en", "fast")
	require.NoError(t, err)
	assert.Equal(t, RoleUnknown, res.Role)
	assert.Equal(t, float64(0), res.Confidence)
}

func TestClassifyParsesStrictJSON(t *testing.T) {
	chat := &stubChat{response: `{"role":"Agent","confidence":0.9,"summary":"Agent greeting"}`}
	c := New(chat, "model", nil)
	res, err := c.Classify(context.Background(), "how can I help you today", "en", "fast")
	require.NoError(t, err)
	assert.Equal(t, RoleAgent, res.Role)
	assert.InDelta(t, 0.9, res.Confidence, 1e-9)
}

func TestClassifyParsesFencedJSON(t *testing.T) {
	chat := &stubChat{response: "```json\n{\"role\":\"Client\",\"confidence\":0.7,\"summary\":\"caller\"}\n```"}
	c := New(chat, "model", nil)
	res, err := c.Classify(context.Background(), "I need help with my account", "en", "fast")
	require.NoError(t, err)
	assert.Equal(t, RoleClient, res.Role)
}

func TestClassifyFallsBackToHeuristicOnLLMFailure(t *testing.T) {
	chat := &stubChat{err: assert.AnError}
	c := New(chat, "model", nil)
	res, err := c.Classify(context.Background(), "how can I assist you", "en", "fast")
	require.NoError(t, err)
	assert.Equal(t, RoleAgent, res.Role)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestClassifyHeuristicDefaultsToClient(t *testing.T) {
	chat := &stubChat{err: assert.AnError}
	c := New(chat, "model", nil)
	res, err := c.Classify(context.Background(), "my account is locked", "en", "fast")
	require.NoError(t, err)
	assert.Equal(t, RoleClient, res.Role)
}

func TestClassifySalvagesJSONFromReasoningOnEmptyContent(t *testing.T) {
	chat := &stubChat{err: &llmclient.EmptyContentError{
		Vendor:    "stub",
		Reasoning: `{"role":"Agent","confidence":0.8,"summary":"greeting detected"}`,
	}}
	c := New(chat, "model", nil)
	res, err := c.Classify(context.Background(), "how can I help you today", "en", "fast")
	require.NoError(t, err)
	assert.Equal(t, RoleAgent, res.Role)
	assert.InDelta(t, 0.8, res.Confidence, 1e-9)
}
