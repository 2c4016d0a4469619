// Package pipeline implements the Pipeline Orchestrator (§4.10): owns step
// ordering, SSE progress, cancellation, timeouts, and response assembly for
// one diarization run. It sequences every stage: merger, markdown,
// text-analysis and scoring do not call one another, although markdown and
// the role classifier call the Chat-LLM adapter and the cache themselves.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/overlapdiarize/pipeline/internal/asr"
	"github.com/overlapdiarize/pipeline/internal/cache"
	"github.com/overlapdiarize/pipeline/internal/config"
	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/overlapdiarize/pipeline/internal/history"
	"github.com/overlapdiarize/pipeline/internal/llmclient"
	"github.com/overlapdiarize/pipeline/internal/markdown"
	"github.com/overlapdiarize/pipeline/internal/merger"
	"github.com/overlapdiarize/pipeline/internal/metrics"
	"github.com/overlapdiarize/pipeline/internal/progress"
	"github.com/overlapdiarize/pipeline/internal/roleclassifier"
	"github.com/overlapdiarize/pipeline/internal/scoring"
	"github.com/overlapdiarize/pipeline/internal/segment"
	"github.com/overlapdiarize/pipeline/internal/separation"
	"github.com/overlapdiarize/pipeline/internal/textanalysis"
	"github.com/overlapdiarize/pipeline/internal/voicetrack"
	"golang.org/x/sync/errgroup"
)

// Request is one /diarize-overlap submission (§3).
type Request struct {
	RequestID         string
	AudioPath         string // local path to the downloaded/uploaded audio
	BaseName          string // original filename, for cache-key sanitization
	Language          string // "auto" allowed
	SpeakerHint       string // int or "auto"
	ASREngine         string
	SeparationMode    string
	LLMMode           string
	TextAnalysisMode  string // "script" or "llm"
	MultiStepMarkdown bool
	GroundTruth       string // optional reference transcript

	// Models is a fresh RunConfig snapshot built at the top of this request
	// (§5, §9): never reused across requests, since the LLM cache key and
	// every model-resolving call site must see the live model ID at
	// submission time, not whatever was configured at process startup.
	Models config.RunConfig
}

// Result is the sanitized response payload (§4.10 "Response sanitization").
// Field names match the keys the orchestrator is required to keep.
type Result struct {
	PrimaryDiarization   *segment.Diarization          `json:"primary_diarization"`
	CorrectedDiarization []segment.Segment              `json:"corrected_diarization"`
	MarkdownTable        string                          `json:"markdown_table"`
	TextAnalysis         []textanalysis.TaggedSegment   `json:"text_analysis"`
	GroundTruthMetrics   *scoring.Metrics                `json:"ground_truth_metrics,omitempty"`
	Separation           separationSummary               `json:"separation"`
	VoiceTracks          []segment.Segment               `json:"voice_tracks"`
	Steps                []StepState                     `json:"steps"`
	TotalDuration        float64                          `json:"total_duration"`
	RequestID            string                           `json:"request_id"`
	PipelineMode         string                           `json:"pipeline_mode"`
}

type separationSummary struct {
	Speakers []string `json:"speakers"`
}

// StepState tracks one state-machine step's outcome (§3 PipelineRun.step_states).
type StepState struct {
	Step     string  `json:"step"`
	Status   string  `json:"status"` // pending, processing, completed, completed_with_fallback, failed, skipped
	Duration float64 `json:"duration"`
	Details  string  `json:"details,omitempty"`
}

// Deps wires every collaborator the Orchestrator dispatches to. Built once
// per process and reused across requests; only Request varies per run.
type Deps struct {
	ASR              *asr.Router
	Separation       *separation.Router
	Chat             *llmclient.Router
	DiarizationCache *cache.Store
	SeparationCache  *cache.Store
	LLMCache         *cache.Store
	History          *history.Recorder
	Timeouts         config.StepTimeouts
	StemFanout       int
}

// Orchestrator runs one request at a time through the full state machine.
type Orchestrator struct {
	deps Deps
}

// New builds an Orchestrator bound to deps.
func New(deps Deps) *Orchestrator {
	if deps.StemFanout <= 0 {
		deps.StemFanout = 4
	}
	return &Orchestrator{deps: deps}
}

// stemTranscript pairs a stem's aggregated voice-track segments with its
// plain transcript and role classification, carried from STEP 3 into
// STEP 4 (merge) and STEP 5 (markdown context).
type stemTranscript struct {
	speaker    string
	segments   []segment.Segment
	plainText  string
	roleResult roleclassifier.Result
}

// Run executes the full state machine for req, emitting progress to sink
// (sink may be nil). It never panics on adapter failure — every failure is
// translated into a StepState{Status: failed} and a *errs.StepError return.
func (o *Orchestrator) Run(ctx context.Context, req Request, sink progress.Sink) (*Result, error) {
	start := time.Now()
	runID := o.deps.History.StartRun(req.RequestID, req.SeparationMode)
	metrics.RunsActive.Inc()
	defer metrics.RunsActive.Dec()

	var steps []StepState
	recordStep := func(step string, stepStart time.Time, status, detail string) {
		d := time.Since(stepStart).Seconds()
		steps = append(steps, StepState{Step: step, Status: status, Duration: d, Details: detail})
		metrics.StageDuration.WithLabelValues(step).Observe(d)
		o.deps.History.RecordStep(runID, step, stepStart, d*1000, status, detail, "")
	}
	emit := func(step, status, desc string, details map[string]any) {
		progress.Emit(sink, progress.Event{
			Type: "step-progress", Step: step, Status: status,
			Description: desc, Details: details, RequestID: req.RequestID,
		})
	}
	fail := func(stepNum int, step string, stepStart time.Time, err error) (*Result, error) {
		recordStep(step, stepStart, "failed", err.Error())
		metrics.Errors.WithLabelValues(step, errorClass(err)).Inc()
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		o.deps.History.FinishRun(runID, time.Since(start).Seconds()*1000, "failed", err.Error())
		emit(step, "failed", err.Error(), nil)
		return nil, &errs.StepError{Step: stepNum, Err: err}
	}

	baseName := cache.Sanitize(req.BaseName)

	// STEP 1: primary ASR diarization.
	step1Start := time.Now()
	emit("step1", "processing", "running primary diarization", nil)
	primaryDia, fromCache, err := o.transcribePrimary(ctx, req, baseName, sink)
	if err != nil {
		return fail(1, "step1", step1Start, err)
	}
	recordStep("step1", step1Start, "completed", fmt.Sprintf("cache=%v", fromCache))
	emit("step1", "completed", "primary diarization ready", nil)

	primarySegs := primaryDia.Recording.Results[req.ASREngine].Segments
	sort.Slice(primarySegs, func(i, j int) bool { return primarySegs[i].Start < primarySegs[j].Start })

	// STEP 1.5 is a separately-configured optional deep-reasoning pass over
	// the primary transcript (§9 Open Question, resolved: gated on an
	// explicit llm_mode rather than always running) — omitted when the
	// selected llm_mode isn't a deep-reasoning mode, never blocking STEP 2.
	if req.LLMMode == "smart2" {
		step15Start := time.Now()
		emit("step1.5", "processing", "deep-reasoning review of primary transcript", nil)
		if chat, chatErr := o.deps.Chat.Route(req.LLMMode); chatErr == nil {
			_, _ = chat.Chat(ctx, llmclient.Request{
				Model:  req.Models.ModelFor(req.LLMMode),
				System: "Review this diarized transcript for obvious speaker-assignment errors. Respond with a one-paragraph note only.",
				User:   renderPlain(primarySegs),
			})
		}
		recordStep("step1.5", step15Start, "completed", "")
		emit("step1.5", "completed", "review complete", nil)
	} else {
		recordStep("step1.5", time.Now(), "skipped", "llm_mode != smart2")
	}

	// STEP 2: source separation.
	step2Start := time.Now()
	emit("step2", "processing", "separating speakers", nil)
	sepResult, sepFromCache, err := o.separate(ctx, req, baseName, sink)
	if err != nil {
		return fail(2, "step2", step2Start, err)
	}
	recordStep("step2", step2Start, "completed", fmt.Sprintf("stems=%d cache=%v", len(sepResult.Stems), sepFromCache))
	emit("step2", "completed", "separation ready", map[string]any{"stems": len(sepResult.Stems)})

	// STEP 3: per-stem re-transcription, aggregation, and role classification.
	step3Start := time.Now()
	emit("step3", "processing", "transcribing stems", nil)
	stems, warnings, err := o.transcribeStems(ctx, req, sepResult, sink)
	if err != nil {
		return fail(3, "step3", step3Start, err)
	}
	recordStep("step3", step3Start, "completed", fmt.Sprintf("stems=%d warnings=%d", len(stems), len(warnings)))
	emit("step3", "completed", "stems transcribed", map[string]any{"warnings": len(warnings)})

	// STEP 4: programmatic merge.
	step4Start := time.Now()
	emit("step4-merge", "processing", "merging voice tracks into primary", nil)
	var voiceTracks []segment.Segment
	for _, st := range stems {
		voiceTracks = append(voiceTracks, st.segments...)
	}
	corrected, mergeStats := merger.Merge(primarySegs, voiceTracks)
	recordStep("step4-merge", step4Start, "completed",
		fmt.Sprintf("enhanced=%d kept=%d", mergeStats.VoiceEnhancedCount, mergeStats.PrimaryKeptCount))
	emit("step4-merge", "completed", "merge complete", nil)

	// STEP 5: markdown generation.
	step5Start := time.Now()
	emit("step5-markdown", "processing", "generating markdown table", nil)
	table := o.generateMarkdown(ctx, req, baseName, corrected, stems)
	recordStep("step5-markdown", step5Start, "completed", "")
	emit("step5-markdown", "completed", "markdown ready", nil)

	// STEP 6: text-analysis classification.
	step6Start := time.Now()
	emit("step6-text-analysis", "processing", "color-tagging final segments", nil)
	rows := markdown.ParseTableRows(table)
	tagged := o.classifyText(ctx, req, rows, primarySegs, voiceTracks)
	recordStep("step6-text-analysis", step6Start, "completed", fmt.Sprintf("rows=%d", len(rows)))
	emit("step6-text-analysis", "completed", "classification complete", nil)

	// STEP 7: ground-truth scoring (optional).
	step7Start := time.Now()
	var gtMetrics *scoring.Metrics
	if req.GroundTruth != "" {
		emit("step7-scoring", "processing", "scoring against reference transcript", nil)
		m := scoring.Score(rows, primarySegs, req.GroundTruth)
		gtMetrics = &m
		recordStep("step7-scoring", step7Start, "completed", fmt.Sprintf("match=%.1f%%", m.NextLevel.MatchPercent))
		emit("step7-scoring", "completed", "scoring complete", nil)
	} else {
		recordStep("step7-scoring", step7Start, "skipped", "no ground_truth provided")
	}

	totalDuration := time.Since(start).Seconds()
	metrics.E2EDuration.Observe(totalDuration)
	metrics.RunsTotal.WithLabelValues("completed").Inc()
	o.deps.History.FinishRun(runID, totalDuration*1000, "completed", "")

	speakers := make([]string, 0, len(sepResult.Stems))
	for _, s := range sepResult.Stems {
		speakers = append(speakers, s.Name)
	}

	result := &Result{
		PrimaryDiarization:   primaryDia,
		CorrectedDiarization: corrected,
		MarkdownTable:        table,
		TextAnalysis:         tagged,
		GroundTruthMetrics:   gtMetrics,
		Separation:           separationSummary{Speakers: speakers},
		VoiceTracks:          voiceTracks,
		Steps:                steps,
		TotalDuration:        totalDuration,
		RequestID:            req.RequestID,
		PipelineMode:         req.SeparationMode,
	}
	progress.Emit(sink, progress.Event{Type: "final-result", Step: "completed", Status: "completed", RequestID: req.RequestID})
	return result, nil
}

// errorClass maps an error to the label metrics.Errors groups by (§4.12).
func errorClass(err error) string {
	var cfg *errs.ConfigError
	var val *errs.ValidationError
	var transient *errs.TransientError
	var permanent *errs.PermanentError
	var parse *errs.ParseError
	var cancelled *errs.CancelledError
	switch {
	case errors.As(err, &cfg):
		return "config"
	case errors.As(err, &val):
		return "validation"
	case errors.As(err, &transient):
		return "transient"
	case errors.As(err, &permanent):
		return "permanent"
	case errors.As(err, &parse):
		return "parse"
	case errors.As(err, &cancelled):
		return "cancelled"
	default:
		return "unknown"
	}
}

func (o *Orchestrator) transcribePrimary(ctx context.Context, req Request, baseName string, sink progress.Sink) (*segment.Diarization, bool, error) {
	key := cache.DiarizationKey(baseName, req.Language, req.SpeakerHint, "mix", req.ASREngine)
	var cached segment.Diarization
	if o.deps.DiarizationCache != nil && o.deps.DiarizationCache.Get(key, &cached) == cache.Hit {
		metrics.CacheHits.WithLabelValues("diarization", "hit").Inc()
		return &cached, true, nil
	}
	metrics.CacheHits.WithLabelValues("diarization", "miss").Inc()

	transcriber, err := o.deps.ASR.Route(req.ASREngine)
	if err != nil {
		return nil, false, err
	}
	runCtx, cancel := context.WithTimeout(ctx, o.deps.Timeouts.ASRFull)
	defer cancel()
	dia, err := transcriber.Transcribe(runCtx, asr.Request{
		AudioRef:    req.AudioPath,
		Language:    req.Language,
		SpeakerHint: req.SpeakerHint,
		Mode:        asr.ModeMix,
	}, sink)
	if err != nil {
		return nil, false, err
	}
	if o.deps.DiarizationCache != nil {
		_ = o.deps.DiarizationCache.Put(key, dia)
	}
	return dia, false, nil
}

func (o *Orchestrator) separate(ctx context.Context, req Request, baseName string, sink progress.Sink) (*separation.Result, bool, error) {
	audioHash := ""
	if f, err := os.Open(req.AudioPath); err == nil {
		if h, herr := cache.HashReader(f); herr == nil {
			audioHash = h
		}
		f.Close()
	}
	key := cache.SeparationKey(baseName, req.SeparationMode, audioHash)
	var cached separation.Result
	if o.deps.SeparationCache != nil && o.deps.SeparationCache.Get(key, &cached) == cache.Hit {
		// PyAnnote/SpeechBrain per-stem URLs expire; only AudioShake's
		// remote URLs are safe to reuse verbatim from cache (§4.1).
		if req.SeparationMode == string(separation.ModeAudioShake) {
			metrics.CacheHits.WithLabelValues("separation", "hit").Inc()
			return &cached, true, nil
		}
	}
	metrics.CacheHits.WithLabelValues("separation", "miss").Inc()

	separator, err := o.deps.Separation.Route(req.SeparationMode)
	if err != nil {
		return nil, false, err
	}
	timeout := o.deps.Timeouts.Separation
	if req.SeparationMode == string(separation.ModeSpeechBrain) {
		timeout = o.deps.Timeouts.SeparationSpeechBrain
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := separator.Separate(runCtx, separation.Request{AudioRef: req.AudioPath}, sink)
	if err != nil {
		return nil, false, err
	}
	if o.deps.SeparationCache != nil {
		_ = o.deps.SeparationCache.Put(key, result)
	}
	return result, false, nil
}

// transcribeStems re-transcribes each stem in channel mode, aggregates its
// voice track, and classifies its role, bounded to StemFanout concurrent
// workers (§4.10 "implementations MAY parallelize with a small fan-out").
// Output is sorted by stem name before return for deterministic ordering
// regardless of completion order.
func (o *Orchestrator) transcribeStems(ctx context.Context, req Request, sep *separation.Result, sink progress.Sink) ([]stemTranscript, []voicetrack.Warning, error) {
	transcriber, err := o.deps.ASR.Route(req.ASREngine)
	if err != nil {
		return nil, nil, err
	}
	chat, chatErr := o.deps.Chat.Route(req.LLMMode)
	var classifier *roleclassifier.Classifier
	if chatErr == nil {
		classifier = roleclassifier.New(chat, req.Models.ModelFor(req.LLMMode), o.deps.LLMCache)
	}

	var warnings warningCollector
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.deps.StemFanout)

	out := make([]stemTranscript, len(sep.Stems))
	for i, stem := range sep.Stems {
		i, stem := i, stem
		if stem.IsBackground {
			continue
		}
		g.Go(func() error {
			runCtx, cancel := context.WithTimeout(gctx, o.deps.Timeouts.ASRStem)
			defer cancel()
			dia, err := transcriber.Transcribe(runCtx, asr.Request{
				AudioRef: stem.AudioRef,
				Language: req.Language,
				Mode:     asr.ModeChannel,
			}, sink)
			if err != nil {
				return fmt.Errorf("stem %s: %w", stem.Name, err)
			}
			raw := flattenResults(dia)
			aggregated := voicetrack.Aggregate(stem.Name, raw, warnings.collect)
			plain := renderPlain(aggregated)

			var roleResult roleclassifier.Result
			if classifier != nil {
				roleResult, _ = classifier.Classify(gctx, plain, req.Language, req.LLMMode)
			}
			for j := range aggregated {
				switch roleResult.Role {
				case roleclassifier.RoleAgent:
					aggregated[j].Role = segment.RoleAgent
				case roleclassifier.RoleClient:
					aggregated[j].Role = segment.RoleClient
				}
			}
			out[i] = stemTranscript{speaker: stem.Name, segments: aggregated, plainText: plain, roleResult: roleResult}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	// drop the zero-value entries left by background stems.
	result := make([]stemTranscript, 0, len(out))
	for _, st := range out {
		if st.speaker != "" {
			result = append(result, st)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].speaker < result[j].speaker })
	return result, warnings.warnings, nil
}

// warningCollector gathers voice-track fallback warnings across the
// concurrent stem workers. Up to StemFanout workers may call collect at the
// same time, so appends are serialized by mu.
type warningCollector struct {
	mu       sync.Mutex
	warnings []voicetrack.Warning
}

func (c *warningCollector) collect(w voicetrack.Warning) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, w)
}

func flattenResults(dia *segment.Diarization) []segment.Segment {
	var out []segment.Segment
	for _, sr := range dia.Recording.Results {
		out = append(out, sr.Segments...)
	}
	return out
}

func renderPlain(segs []segment.Segment) string {
	s := ""
	for _, seg := range segs {
		s += seg.Text + " "
	}
	return s
}

func (o *Orchestrator) generateMarkdown(ctx context.Context, req Request, baseName string, corrected []segment.Segment, stems []stemTranscript) string {
	chat, chatErr := o.deps.Chat.Route(req.LLMMode)
	if chatErr != nil {
		return markdown.BuildDeterministicTable(corrected)
	}

	stemDialogues := map[string]string{}
	roleGuidance := map[string]markdown.RoleGuidance{}
	for _, st := range stems {
		if st.roleResult.Role == roleclassifier.RoleAgent {
			stemDialogues["Agent"] = st.plainText
		} else if st.roleResult.Role == roleclassifier.RoleClient {
			stemDialogues["Client"] = st.plainText
		}
		roleGuidance[st.speaker] = markdown.RoleGuidance{Role: string(st.roleResult.Role), Confidence: st.roleResult.Confidence}
	}

	mdCtx := markdown.BuildContext(corrected, stemDialogues, roleGuidance, req.GroundTruth)
	gen := &markdown.Generator{
		Chat:        chat,
		Model:       req.Models.ModelFor(req.LLMMode),
		FastModel:   req.Models.ModelFor("fast"),
		IsLocalMode: req.LLMMode == "local",
		Cache:       o.deps.LLMCache,
		BaseName:    baseName,
		DemoMode:    req.Models.DemoLLMMode,
	}
	return gen.Generate(ctx, corrected, mdCtx, req.MultiStepMarkdown)
}

func (o *Orchestrator) classifyText(ctx context.Context, req Request, rows []segment.MarkdownRow, primary []segment.Segment, stems []segment.Segment) []textanalysis.TaggedSegment {
	if req.TextAnalysisMode == "llm" {
		if chat, err := o.deps.Chat.Route(req.LLMMode); err == nil {
			if tagged, err := textanalysis.ClassifyLLM(ctx, chat, req.Models.ModelFor(req.LLMMode), rows, renderPlain(primary), renderPlain(stems)); err == nil {
				return tagged
			}
		}
	}
	return textanalysis.ClassifyScript(rows, primary, stems)
}
