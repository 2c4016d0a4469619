// Package vendorcheck implements fail-fast configuration validation (§7
// Configuration error class): before a run starts, verify that the vendor
// credentials and local-model references needed by the selected back-ends
// are actually present. Grounded on the old GPU-service registry's
// whitelist idea, repurposed here as a static "does this selection have
// what it needs" check instead of a process-management layer — this
// deployment's ASR/separation/LLM back-ends are remote HTTP APIs (or local
// subprocesses spawned per-call), not long-lived managed services, so
// there is no start/stop/status surface to keep a registry for.
package vendorcheck

import (
	"context"
	"fmt"
	"strings"

	"github.com/overlapdiarize/pipeline/internal/config"
	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/overlapdiarize/pipeline/internal/models"
)

// Validate checks that cfg carries what asrEngine/separationMode/llmMode need.
// Returns a *errs.ConfigError naming the first missing field; nil if all present.
func Validate(cfg config.RunConfig, asrEngine, separationMode, llmMode string) error {
	switch asrEngine {
	case "SpeechmaticsBatch":
		if cfg.SpeechmaticsAPIKey == "" {
			return &errs.ConfigError{Field: "SPEECHMATICS_API_KEY", Msg: "required for asr_engine=SpeechmaticsBatch"}
		}
	case "AzureBatch", "AzureRealtime":
		if cfg.AzureSpeechKey == "" {
			return &errs.ConfigError{Field: "AZURE_SPEECH_KEY", Msg: fmt.Sprintf("required for asr_engine=%s", asrEngine)}
		}
		if cfg.AzureSpeechRegion == "" {
			return &errs.ConfigError{Field: "AZURE_SPEECH_REGION", Msg: fmt.Sprintf("required for asr_engine=%s", asrEngine)}
		}
	default:
		return &errs.ConfigError{Field: "asr_engine", Msg: fmt.Sprintf("unknown engine %q", asrEngine)}
	}

	switch separationMode {
	case "AudioShake":
		if cfg.AudioShakeAPIKey == "" {
			return &errs.ConfigError{Field: "AUDIOSHAKE_API_KEY", Msg: "required for pipeline_mode=AudioShake"}
		}
	case "PyAnnote":
		if cfg.HuggingFaceToken == "" {
			return &errs.ConfigError{Field: "HUGGINGFACE_TOKEN", Msg: "required for pipeline_mode=PyAnnote"}
		}
	case "SpeechBrain":
		// no vendor credential: local subprocess with a bundled model.
	default:
		return &errs.ConfigError{Field: "pipeline_mode", Msg: fmt.Sprintf("unknown mode %q", separationMode)}
	}

	switch llmMode {
	case "local":
		if cfg.LocalLLMBaseURL == "" {
			return &errs.ConfigError{Field: "LOCAL_LLM_BASE_URL", Msg: "required for llm_mode=local"}
		}
		if cfg.LocalLLMModel == "" {
			return &errs.ConfigError{Field: "LOCAL_LLM_MODEL", Msg: "required for llm_mode=local"}
		}
	case "gemini25":
		if cfg.GoogleGeminiAPIKey == "" {
			return &errs.ConfigError{Field: "GOOGLE_GEMINI_API_KEY", Msg: "required for llm_mode=gemini25"}
		}
	case "fast", "smart", "smart2", "test", "test2":
		if cfg.OpenRouterAPIKey == "" {
			return &errs.ConfigError{Field: "OPENROUTER_API_KEY", Msg: fmt.Sprintf("required for llm_mode=%s", llmMode)}
		}
	default:
		return &errs.ConfigError{Field: "llm_mode", Msg: fmt.Sprintf("unknown mode %q", llmMode)}
	}

	return nil
}

// CheckLocalModel is an optional live check (not part of the fail-fast static
// Validate pass): confirms the configured local model is actually pulled
// into the local OpenAI-compatible server before a run starts depending on
// it. Best-effort — callers should treat a failure here as a warning, not a
// hard stop, since some local servers don't expose a model-listing endpoint.
func CheckLocalModel(ctx context.Context, baseURL, model string) error {
	available, err := models.ListLLMModels(ctx, baseURL)
	if err != nil {
		return fmt.Errorf("vendorcheck: listing local models: %w", err)
	}
	for _, m := range available {
		if m == model || strings.HasPrefix(m, model+":") {
			return nil
		}
	}
	return &errs.ConfigError{Field: "LOCAL_LLM_MODEL", Msg: fmt.Sprintf("model %q not found on local server (have: %s)", model, strings.Join(available, ", "))}
}
