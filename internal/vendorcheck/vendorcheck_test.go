package vendorcheck

import (
	"testing"

	"github.com/overlapdiarize/pipeline/internal/config"
	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassesWhenAllCredentialsPresent(t *testing.T) {
	cfg := config.RunConfig{
		SpeechmaticsAPIKey: "sm-key",
		HuggingFaceToken:   "hf-token",
		OpenRouterAPIKey:   "or-key",
	}
	assert.NoError(t, Validate(cfg, "SpeechmaticsBatch", "PyAnnote", "fast"))
}

func TestValidateFailsOnMissingASRCredential(t *testing.T) {
	err := Validate(config.RunConfig{}, "SpeechmaticsBatch", "SpeechBrain", "fast")
	require.Error(t, err)
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "SPEECHMATICS_API_KEY", cfgErr.Field)
}

func TestValidateFailsOnUnknownSeparationMode(t *testing.T) {
	cfg := config.RunConfig{SpeechmaticsAPIKey: "sm-key", OpenRouterAPIKey: "or-key"}
	err := Validate(cfg, "SpeechmaticsBatch", "DoesNotExist", "fast")
	require.Error(t, err)
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "pipeline_mode", cfgErr.Field)
}

func TestValidateFailsOnLocalLLMMissingBaseURL(t *testing.T) {
	cfg := config.RunConfig{SpeechmaticsAPIKey: "sm-key", HuggingFaceToken: "hf-token"}
	err := Validate(cfg, "SpeechmaticsBatch", "PyAnnote", "local")
	require.Error(t, err)
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "LOCAL_LLM_BASE_URL", cfgErr.Field)
}

func TestValidateAllowsSpeechBrainWithoutCredential(t *testing.T) {
	cfg := config.RunConfig{SpeechmaticsAPIKey: "sm-key", OpenRouterAPIKey: "or-key"}
	assert.NoError(t, Validate(cfg, "SpeechmaticsBatch", "SpeechBrain", "fast"))
}
