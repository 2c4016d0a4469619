package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/overlapdiarize/pipeline/internal/httputil"
	"github.com/overlapdiarize/pipeline/internal/progress"
	"github.com/overlapdiarize/pipeline/internal/retry"
	"github.com/overlapdiarize/pipeline/internal/segment"
)

// SpeechmaticsBatch implements Transcriber against Speechmatics' batch
// transcription API (§6 "ASR (batch)"): submit job, poll state, fetch
// transcript.
type SpeechmaticsBatch struct {
	apiKey  string
	baseURL string
	client  *http.Client
	retry   retry.Policy
}

// NewSpeechmaticsBatch creates a Speechmatics batch client.
func NewSpeechmaticsBatch(apiKey, baseURL string) *SpeechmaticsBatch {
	if baseURL == "" {
		baseURL = "https://asr.api.speechmatics.com/v2"
	}
	return &SpeechmaticsBatch{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  httputil.NewVendorJobClient(20 * time.Minute),
		retry:   retry.Default(),
	}
}

func (c *SpeechmaticsBatch) Name() string { return "SpeechmaticsBatch" }

func (c *SpeechmaticsBatch) Transcribe(ctx context.Context, req Request, sink progress.Sink) (*segment.Diarization, error) {
	if c.apiKey == "" {
		return nil, &errs.ConfigError{Field: "SPEECHMATICS_API_KEY", Msg: "missing"}
	}

	var jobID string
	err := retry.Do(ctx, c.retry, c.Name(), func(ctx context.Context, attempt int) error {
		id, err := c.submit(ctx, req)
		if err != nil {
			return err
		}
		jobID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("speechmatics submit: %w", err)
	}
	emitPoll(sink, "", "step1", 0, 0, stateQueued, "job submitted")

	state, err := waitTerminal(ctx, 600, func(attempt int) (pollState, error) {
		st, perr := c.poll(ctx, jobID)
		emitPoll(sink, "", "step1", attempt, 600, st, "polling speechmatics job")
		return st, perr
	})
	if err != nil {
		return nil, &errs.TransientError{Vendor: "speechmatics", Err: err}
	}
	if state != stateSucceeded {
		return nil, &errs.TransientError{Vendor: "speechmatics", Err: fmt.Errorf("job %s ended in state %s", jobID, state)}
	}

	segs, raw, err := c.fetch(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("speechmatics fetch: %w", err)
	}
	return buildDiarization("SpeechmaticsBatch", req.AudioRef, req.Language, durationOf(segs), segs, raw), nil
}

func durationOf(segs []segment.Segment) float64 {
	var d float64
	for _, s := range segs {
		if s.End > d {
			d = s.End
		}
	}
	return d
}

func (c *SpeechmaticsBatch) submit(ctx context.Context, req Request) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	config := map[string]any{
		"type": "transcription",
		"transcription_config": map[string]any{
			"language":   orAuto(req.Language),
			"diarization": "speaker",
		},
	}
	if req.Mode == ModeChannel {
		config["transcription_config"].(map[string]any)["diarization"] = "channel"
	}
	cfgJSON, err := json.Marshal(config)
	if err != nil {
		return "", err
	}
	if err := w.WriteField("config", string(cfgJSON)); err != nil {
		return "", err
	}

	f, err := os.Open(req.AudioRef)
	if err != nil {
		return "", &errs.ValidationError{Field: "audio_source", Msg: err.Error()}
	}
	defer f.Close()
	part, err := w.CreateFormFile("data_file", "audio.wav")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", &body)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &errs.TransientError{Vendor: "speechmatics", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", &errs.TransientError{Vendor: "speechmatics", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &errs.PermanentError{Vendor: "speechmatics", Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, b)}
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *SpeechmaticsBatch) poll(ctx context.Context, jobID string) (pollState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return stateFailed, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return stateFailed, &errs.TransientError{Vendor: "speechmatics", Err: err}
	}
	defer resp.Body.Close()
	var out struct {
		Job struct {
			Status string `json:"status"`
		} `json:"job"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return stateFailed, err
	}
	switch out.Job.Status {
	case "done":
		return stateSucceeded, nil
	case "rejected", "deleted":
		return stateFailed, fmt.Errorf("job status %s", out.Job.Status)
	default:
		return stateRunning, nil
	}
}

func (c *SpeechmaticsBatch) fetch(ctx context.Context, jobID string) ([]segment.Segment, map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID+"/transcript?format=json-v2", nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, &errs.TransientError{Vendor: "speechmatics", Err: err}
	}
	defer resp.Body.Close()

	var out struct {
		Segments []vendorSegment        `json:"segments"`
		Raw      map[string]any `json:"-"`
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, nil, &errs.ParseError{Stage: "asr_speechmatics", Err: err}
	}
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	return toSegments(out.Segments), raw, nil
}

func orAuto(lang string) string {
	if lang == "" {
		return "auto"
	}
	return lang
}
