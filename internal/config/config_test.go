package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelForResolvesEachLLMMode(t *testing.T) {
	cfg := RunConfig{
		FastModelID:   "fast-id",
		SmartModelID:  "smart-id",
		Smart2ModelID: "smart2-id",
		TestModelID:   "test-id",
		Test2ModelID:  "test2-id",
		GeminiModelID: "gemini-id",
		LocalLLMModel: "local-id",
	}

	assert.Equal(t, "fast-id", cfg.ModelFor("fast"))
	assert.Equal(t, "smart-id", cfg.ModelFor("smart"))
	assert.Equal(t, "smart2-id", cfg.ModelFor("smart2"))
	assert.Equal(t, "test-id", cfg.ModelFor("test"))
	assert.Equal(t, "test2-id", cfg.ModelFor("test2"))
	assert.Equal(t, "local-id", cfg.ModelFor("local"))
	assert.Equal(t, "gemini-id", cfg.ModelFor("gemini25"))
	assert.Equal(t, "fast-id", cfg.ModelFor("unknown-mode"))
}
