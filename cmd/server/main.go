package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/overlapdiarize/pipeline/internal/asr"
	"github.com/overlapdiarize/pipeline/internal/cache"
	"github.com/overlapdiarize/pipeline/internal/config"
	"github.com/overlapdiarize/pipeline/internal/env"
	"github.com/overlapdiarize/pipeline/internal/history"
	"github.com/overlapdiarize/pipeline/internal/httpapi"
	"github.com/overlapdiarize/pipeline/internal/llmclient"
	"github.com/overlapdiarize/pipeline/internal/logging"
	"github.com/overlapdiarize/pipeline/internal/objectstore"
	"github.com/overlapdiarize/pipeline/internal/pipeline"
	"github.com/overlapdiarize/pipeline/internal/separation"
	"github.com/overlapdiarize/pipeline/internal/vendorcheck"
)

func main() {
	logging.Init(env.Str("LOG_LEVEL", "info"))
	log := logging.Base()

	cfg := config.Load()

	if err := vendorcheck.Validate(cfg, "SpeechmaticsBatch", "PyAnnote", "fast"); err != nil {
		log.Warn().Err(err).Msg("vendor config incomplete for default selection; per-request selections may still fail fast")
	}

	diarizationCache, err := cache.Open(cfg.CacheDir+"/diarization", 30*24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("opening diarization cache")
	}
	separationCache, err := cache.Open(cfg.CacheDir+"/separation", 30*24*time.Hour)
	if err != nil {
		log.Fatal().Err(err).Msg("opening separation cache")
	}
	llmCacheTTL := 30 * 24 * time.Hour
	if !cfg.LLMCacheEnabled {
		llmCacheTTL = 0
	}
	llmCache, err := cache.Open(cfg.CacheDir+"/llm", llmCacheTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("opening llm cache")
	}

	var historyStore *history.Store
	var recorder *history.Recorder
	if cfg.RunHistoryDatabaseURL != "" {
		historyStore, err = history.Open(cfg.RunHistoryDatabaseURL, 1000)
		if err != nil {
			log.Error().Err(err).Msg("run history store unavailable; continuing without it")
		} else {
			recorder = history.NewRecorder(historyStore)
			defer recorder.Close()
		}
	}

	asrRouter := buildASRRouter(cfg)
	separationRouter := buildSeparationRouter(cfg)
	chatRouter := buildChatRouter(cfg)

	orch := pipeline.New(pipeline.Deps{
		ASR:              asrRouter,
		Separation:       separationRouter,
		Chat:             chatRouter,
		DiarizationCache: diarizationCache,
		SeparationCache:  separationCache,
		LLMCache:         llmCache,
		History:          recorder,
		Timeouts:         config.DefaultStepTimeouts(),
		StemFanout:       cfg.StemFanout,
	})

	mux := http.NewServeMux()
	httpapi.RegisterRoutes(mux, httpapi.Deps{
		Orchestrator: orch,
		History:      historyStore,
		TempDir:      cfg.TempDir,
	})

	port := env.Str("GATEWAY_PORT", "8000")
	srv := &http.Server{Addr: ":" + port, Handler: mux}

	go awaitShutdown(srv, historyStore)

	log.Info().Str("addr", srv.Addr).Msg("overlap diarization server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

func awaitShutdown(srv *http.Server, historyStore *history.Store) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if historyStore != nil {
		historyStore.Close()
	}
}

func buildASRRouter(cfg config.RunConfig) *asr.Router {
	backends := map[string]asr.Transcriber{}
	if cfg.SpeechmaticsAPIKey != "" {
		backends["SpeechmaticsBatch"] = asr.NewSpeechmaticsBatch(cfg.SpeechmaticsAPIKey, "https://asr.api.speechmatics.com/v2")
	}
	if cfg.AzureSpeechKey != "" {
		backends["AzureBatch"] = asr.NewAzureBatch(cfg.AzureSpeechKey, cfg.AzureSpeechRegion)
		backends["AzureRealtime"] = asr.NewAzureRealtime(cfg.AzureSpeechKey, cfg.AzureSpeechRegion)
	}
	fallback := "SpeechmaticsBatch"
	if _, ok := backends[fallback]; !ok {
		for name := range backends {
			fallback = name
			break
		}
	}
	return asr.NewRouter(backends, fallback)
}

func buildSeparationRouter(cfg config.RunConfig) *separation.Router {
	backends := map[string]separation.Separator{}
	backends["PyAnnote"] = separation.NewPyAnnote("pyannote-separate")
	backends["SpeechBrain"] = separation.NewSpeechBrain("speechbrain-separate")
	if cfg.AudioShakeAPIKey != "" {
		var presigner *objectstore.Presigner
		if cfg.S3UploadBucket != "" {
			if p, err := objectstore.New(context.Background(), cfg.S3UploadBucket); err == nil {
				presigner = p
			}
		}
		backends["AudioShake"] = separation.NewAudioShake(cfg.AudioShakeAPIKey, "https://groovy.audioshake.ai", presigner)
	}
	return separation.NewRouter(backends, "PyAnnote")
}

func buildChatRouter(cfg config.RunConfig) *llmclient.Router {
	backends := map[string]llmclient.ChatModel{}
	timeoutRemote := config.DefaultStepTimeouts().ChatRemote
	timeoutLocal := config.DefaultStepTimeouts().ChatLocal

	if cfg.LocalLLMBaseURL != "" {
		backends["local"] = llmclient.NewLocal("local", cfg.LocalLLMBaseURL, cfg.LocalLLMAPIKey, timeoutLocal)
	}
	if cfg.OpenRouterAPIKey != "" {
		backends["fast"] = llmclient.NewRemote("fast", "https://openrouter.ai/api/v1", cfg.OpenRouterAPIKey, timeoutRemote)
		backends["smart"] = llmclient.NewRemote("smart", "https://openrouter.ai/api/v1", cfg.OpenRouterAPIKey, timeoutRemote)
		backends["smart2"] = llmclient.NewRemote("smart2", "https://openrouter.ai/api/v1", cfg.OpenRouterAPIKey, config.DefaultStepTimeouts().DeepReasoning)
		backends["test"] = llmclient.NewRemote("test", "https://openrouter.ai/api/v1", cfg.OpenRouterAPIKey, timeoutRemote)
		backends["test2"] = llmclient.NewRemote("test2", "https://openrouter.ai/api/v1", cfg.OpenRouterAPIKey, timeoutRemote)
	}
	if cfg.GoogleGeminiAPIKey != "" {
		backends["gemini25"] = llmclient.NewRemote("gemini25", "https://generativelanguage.googleapis.com/v1beta/openai", cfg.GoogleGeminiAPIKey, timeoutRemote)
	}

	fallback := "fast"
	if _, ok := backends[fallback]; !ok {
		for name := range backends {
			fallback = name
			break
		}
	}
	return llmclient.NewRouter(backends, fallback)
}
