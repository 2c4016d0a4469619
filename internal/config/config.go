// Package config builds a RunConfig snapshot from the process environment.
// Per §5/§9, configuration is re-read on every request rather than cached in
// a long-lived singleton, because the LLM cache key depends on the live
// model ID at submission time.
package config

import (
	"time"

	"github.com/overlapdiarize/pipeline/internal/env"
)

// RunConfig is the per-request configuration snapshot (§3) passed by value
// into the Orchestrator constructor.
type RunConfig struct {
	// ASR
	SpeechmaticsAPIKey string
	AzureSpeechKey     string
	AzureSpeechRegion  string

	// Separation
	AudioShakeAPIKey string
	HuggingFaceToken string
	S3UploadBucket   string

	// Chat-LLM
	OpenRouterAPIKey  string
	GoogleGeminiAPIKey string
	LocalLLMBaseURL   string
	LocalLLMAPIKey    string
	LocalLLMModel     string

	// Model selection, read dynamically so cache keys track the live model.
	FastModelID   string
	SmartModelID  string
	Smart2ModelID string
	TestModelID   string
	Test2ModelID  string
	GeminiModelID string

	LLMCacheEnabled        bool
	SeparationCacheEnabled bool
	TextAnalysisMode       string
	UseMultiStepMarkdown   bool
	DemoLLMMode            string

	RunHistoryDatabaseURL string

	CacheDir   string
	UploadsDir string
	TempDir    string

	MaxConcurrentRuns int
	StemFanout        int
}

// Load builds a RunConfig from the current process environment. Call this
// fresh at the top of every request (§5) — never cache the result across
// requests.
func Load() RunConfig {
	return RunConfig{
		SpeechmaticsAPIKey: env.Str("SPEECHMATICS_API_KEY", ""),
		AzureSpeechKey:     env.Str("AZURE_SPEECH_KEY", ""),
		AzureSpeechRegion:  env.Str("AZURE_SPEECH_REGION", ""),

		AudioShakeAPIKey: env.Str("AUDIOSHAKE_API_KEY", ""),
		HuggingFaceToken: env.Str("HUGGINGFACE_TOKEN", ""),
		S3UploadBucket:   env.Str("AWS_S3_UPLOAD_BUCKET", ""),

		OpenRouterAPIKey:   env.Str("OPENROUTER_API_KEY", ""),
		GoogleGeminiAPIKey: env.Str("GOOGLE_GEMINI_API_KEY", ""),
		LocalLLMBaseURL:    env.Str("LOCAL_LLM_BASE_URL", "http://localhost:11434"),
		LocalLLMAPIKey:     env.Str("LOCAL_LLM_API_KEY", ""),
		LocalLLMModel:      env.Str("LOCAL_LLM_MODEL", ""),

		FastModelID:   env.Str("FAST_MODEL_ID", "gpt-4o-mini"),
		SmartModelID:  env.Str("SMART_MODEL_ID", "gpt-4o"),
		Smart2ModelID: env.Str("SMART_2_MODEL_ID", "gpt-4o"),
		TestModelID:   env.Str("TEST_MODEL_ID", "gpt-4o-mini"),
		Test2ModelID:  env.Str("TEST2_MODEL_ID", "gpt-4o-mini"),
		GeminiModelID: env.Str("GOOGLE_GEMINI_MODEL_ID", "gemini-2.5-flash"),

		LLMCacheEnabled:        env.Bool("LLM_CACHE_ENABLED", true),
		SeparationCacheEnabled: env.Bool("SEPARATION_CACHE_ENABLED", true),
		TextAnalysisMode:       env.Str("TEXT_ANALYSIS_MODE", "script"),
		UseMultiStepMarkdown:   env.Bool("USE_MULTI_STEP_MARKDOWN", false),
		DemoLLMMode:            env.Str("DEMO_LLM_MODE", ""),

		RunHistoryDatabaseURL: env.Str("RUN_HISTORY_DATABASE_URL", ""),

		CacheDir:   env.Str("CACHE_DIR", "cache"),
		UploadsDir: env.Str("UPLOADS_DIR", "uploads"),
		TempDir:    env.Str("TEMP_UPLOADS_DIR", "temp_uploads"),

		MaxConcurrentRuns: env.Int("MAX_CONCURRENT_RUNS", 1),
		StemFanout:        env.Int("STEM_FANOUT", 4),
	}
}

// ModelFor resolves the model ID for a given llm_mode. Unknown modes fall
// back to FastModelID.
func (c RunConfig) ModelFor(llmMode string) string {
	switch llmMode {
	case "smart":
		return c.SmartModelID
	case "smart2":
		return c.Smart2ModelID
	case "test":
		return c.TestModelID
	case "test2":
		return c.Test2ModelID
	case "local":
		return c.LocalLLMModel
	case "gemini25":
		return c.GeminiModelID
	default:
		return c.FastModelID
	}
}

// StepTimeouts returns the adapter timeout budget (§5).
type StepTimeouts struct {
	ASRStem      time.Duration
	ASRFull      time.Duration
	Separation   time.Duration
	SeparationSpeechBrain time.Duration
	ChatRemote   time.Duration
	ChatLocal    time.Duration
	MarkdownGen  time.Duration
	DeepReasoning time.Duration
}

// DefaultStepTimeouts matches the floors given in §5.
func DefaultStepTimeouts() StepTimeouts {
	return StepTimeouts{
		ASRStem:               10 * time.Minute,
		ASRFull:               20 * time.Minute,
		Separation:            15 * time.Minute,
		SeparationSpeechBrain: 5 * time.Minute,
		ChatRemote:            3 * time.Minute,
		ChatLocal:             30 * time.Minute,
		MarkdownGen:           10 * time.Minute,
		DeepReasoning:         time.Hour,
	}
}
