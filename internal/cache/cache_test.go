package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "audio", Sanitize(""))
	assert.Equal(t, "audio", Sanitize("???"))
	assert.Equal(t, "call_2024_01", Sanitize("call 2024/01"))
	assert.Equal(t, "a_b", Sanitize("__a__b__"))
}

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "diar"), 24*time.Hour)
	require.NoError(t, err)

	type payload struct {
		Value string `json:"value"`
	}
	require.NoError(t, s.Put("mykey", payload{Value: "hello"}))

	var out payload
	res := s.Get("mykey", &out)
	assert.Equal(t, Hit, res)
	assert.Equal(t, "hello", out.Value)
}

func TestGetMissing(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, 0)
	require.NoError(t, err)

	var out map[string]any
	assert.Equal(t, Miss, s.Get("nope", &out))
}

func TestStaleDeletesOnRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, s.Put("k", map[string]string{"a": "b"}))
	time.Sleep(5 * time.Millisecond)

	var out map[string]string
	assert.Equal(t, Stale, s.Get("k", &out))
	assert.Equal(t, Miss, s.Get("k", &out))
}

func TestKeyDerivationDistinctInputs(t *testing.T) {
	k1 := DiarizationKey("call", "en", "auto", "mix", "SpeechmaticsBatch")
	k2 := DiarizationKey("call", "en", "auto", "channel", "SpeechmaticsBatch")
	assert.NotEqual(t, k1, k2)

	l1 := LLMKey("call", "prompt-a", "gpt-4o", "smart", "markdown-fixes", "")
	l2 := LLMKey("call", "prompt-b", "gpt-4o", "smart", "markdown-fixes", "")
	assert.NotEqual(t, l1, l2)
}
