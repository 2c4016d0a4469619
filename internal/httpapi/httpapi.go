// Package httpapi is the thin HTTP entrypoint for the Overlap Diarization
// Pipeline: a multipart upload handler that drives one Orchestrator run and
// either streams SSE progress or returns the final JSON payload directly,
// plus a Prometheus /metrics endpoint and a read-only run-history API.
// Everything domain-specific lives in internal/pipeline; this package only
// does request parsing, temp-file lifecycle, and response framing.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/overlapdiarize/pipeline/internal/config"
	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/overlapdiarize/pipeline/internal/history"
	"github.com/overlapdiarize/pipeline/internal/logging"
	"github.com/overlapdiarize/pipeline/internal/pipeline"
	"github.com/overlapdiarize/pipeline/internal/progress"
	"github.com/overlapdiarize/pipeline/internal/vendorcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// heartbeatInterval matches §4.10's SSE keep-alive cadence.
const heartbeatInterval = 30 * time.Second

// maxUploadBytes bounds the multipart form the server will buffer in memory
// before spilling to disk; large audio files still stream to TempDir.
const maxUploadBytes = 32 << 20

// Deps wires the HTTP layer to the orchestrator and history store.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	History      *history.Store // nil when RUN_HISTORY_DATABASE_URL is unset
	TempDir      string
}

// RegisterRoutes mounts every route on mux.
func RegisterRoutes(mux *http.ServeMux, d Deps) {
	mux.HandleFunc("POST /diarize-overlap", d.handleDiarize)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/runs", d.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", d.handleGetRun)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (d Deps) handleDiarize(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	ctx := logging.WithRequest(r.Context(), requestID)
	log := logging.From(ctx)

	// RunConfig is re-read fresh at the top of every request (§5, §9): the
	// LLM cache key and every model-resolving call site must see the live
	// model ID at submission time, never a startup snapshot.
	cfg := config.Load()

	asrEngine := formValue(r, "asr_engine", "SpeechmaticsBatch")
	separationMode := formValue(r, "pipeline_mode", "PyAnnote")
	llmMode := formValue(r, "llm_mode", "fast")

	if err := vendorcheck.Validate(cfg, asrEngine, separationMode, llmMode); err != nil {
		writeJSONError(w, err)
		return
	}

	audioPath, baseName, cleanup, err := d.saveUpload(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer cleanup()

	req := pipeline.Request{
		RequestID:         requestID,
		AudioPath:         audioPath,
		BaseName:          baseName,
		Language:          formValue(r, "language", "auto"),
		SpeakerHint:       formValue(r, "speaker_hint", "auto"),
		ASREngine:         asrEngine,
		SeparationMode:    separationMode,
		LLMMode:           llmMode,
		TextAnalysisMode:  formValue(r, "text_analysis_mode", "script"),
		MultiStepMarkdown: llmMode == "local" || cfg.UseMultiStepMarkdown,
		GroundTruth:       formValue(r, "ground_truth", ""),
		Models:            cfg,
	}

	wantsSSE := r.Header.Get("Accept") == "text/event-stream" || r.URL.Query().Get("stream") == "1"
	if !wantsSSE {
		result, err := d.Orchestrator.Run(ctx, req, nil)
		if err != nil {
			log.Error().Err(err).Msg("run failed")
			writeJSONError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var mu sync.Mutex
	writeEvent := func(eventType string, payload any) {
		mu.Lock()
		defer mu.Unlock()
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
		flusher.Flush()
	}

	fmt.Fprint(w, ": keep-alive\n\n")
	flusher.Flush()

	heartbeatDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatDone:
				return
			case <-ticker.C:
				mu.Lock()
				fmt.Fprint(w, ": heartbeat\n\n")
				flusher.Flush()
				mu.Unlock()
			}
		}
	}()

	sink := progress.Sink(func(e progress.Event) {
		writeEvent("step-progress", e)
	})

	result, err := d.Orchestrator.Run(ctx, req, sink)
	close(heartbeatDone)

	if err != nil {
		log.Error().Err(err).Msg("run failed")
		writeEvent("pipeline-error", map[string]string{"request_id": requestID, "error": err.Error()})
		return
	}
	writeEvent("final-result", result)
}

func (d Deps) saveUpload(r *http.Request) (path, baseName string, cleanup func(), err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", "", nil, fmt.Errorf("parsing upload: %w", err)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", "", nil, fmt.Errorf("missing audio file: %w", err)
	}
	defer file.Close()

	if err := os.MkdirAll(d.TempDir, 0o755); err != nil {
		return "", "", nil, err
	}
	dst := filepath.Join(d.TempDir, uuid.NewString()+filepath.Ext(header.Filename))
	out, err := os.Create(dst)
	if err != nil {
		return "", "", nil, err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dst)
		return "", "", nil, err
	}
	out.Close()

	return dst, header.Filename, func() { os.Remove(dst) }, nil
}

func formValue(r *http.Request, key, fallback string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return fallback
}

func writeJSONError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var cfgErr *errs.ConfigError
	var valErr *errs.ValidationError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &valErr):
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (d Deps) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if d.History == nil {
		http.Error(w, "run history disabled", http.StatusNotFound)
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	runs, total, err := d.History.ListRuns(limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"runs": runs, "total": total})
}

func (d Deps) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if d.History == nil {
		http.Error(w, "run history disabled", http.StatusNotFound)
		return
	}
	run, steps, err := d.History.GetRun(r.PathValue("id"))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"run": run, "steps": steps})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
