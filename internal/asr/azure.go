package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/overlapdiarize/pipeline/internal/httputil"
	"github.com/overlapdiarize/pipeline/internal/progress"
	"github.com/overlapdiarize/pipeline/internal/retry"
	"github.com/overlapdiarize/pipeline/internal/segment"
)

// AzureBatch implements Transcriber against Azure Speech's batch
// transcription REST API (§6).
type AzureBatch struct {
	key    string
	region string
	client *http.Client
	retry  retry.Policy
}

// NewAzureBatch creates an Azure batch transcription client.
func NewAzureBatch(key, region string) *AzureBatch {
	return &AzureBatch{
		key:    key,
		region: region,
		client: httputil.NewVendorJobClient(20 * time.Minute),
		retry:  retry.Default(),
	}
}

func (c *AzureBatch) Name() string { return "AzureBatch" }

func (c *AzureBatch) baseURL() string {
	return fmt.Sprintf("https://%s.api.cognitive.microsoft.com/speechtotext/v3.2", c.region)
}

func (c *AzureBatch) Transcribe(ctx context.Context, req Request, sink progress.Sink) (*segment.Diarization, error) {
	if c.key == "" || c.region == "" {
		return nil, &errs.ConfigError{Field: "AZURE_SPEECH_KEY/AZURE_SPEECH_REGION", Msg: "missing"}
	}

	var transcriptionURL string
	err := retry.Do(ctx, c.retry, c.Name(), func(ctx context.Context, attempt int) error {
		url, err := c.submit(ctx, req)
		if err != nil {
			return err
		}
		transcriptionURL = url
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("azure batch submit: %w", err)
	}
	emitPoll(sink, "", "step1", 0, 0, stateQueued, "azure job submitted")

	state, err := waitTerminal(ctx, 600, func(attempt int) (pollState, error) {
		st, perr := c.poll(ctx, transcriptionURL)
		emitPoll(sink, "", "step1", attempt, 600, st, "polling azure job")
		return st, perr
	})
	if err != nil {
		return nil, &errs.TransientError{Vendor: "azure", Err: err}
	}
	if state != stateSucceeded {
		return nil, &errs.TransientError{Vendor: "azure", Err: fmt.Errorf("transcription ended in state %s", state)}
	}

	segs, raw, err := c.fetchResults(ctx, transcriptionURL, req)
	if err != nil {
		return nil, fmt.Errorf("azure fetch: %w", err)
	}
	return buildDiarization("AzureBatch", req.AudioRef, req.Language, durationOf(segs), segs, raw), nil
}

func (c *AzureBatch) submit(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"contentUrls": []string{req.AudioRef},
		"locale":      orAuto(req.Language),
		"properties": map[string]any{
			"diarizationEnabled": true,
			"wordLevelTimestampsEnabled": true,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/transcriptions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", &errs.TransientError{Vendor: "azure", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", &errs.TransientError{Vendor: "azure", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &errs.PermanentError{Vendor: "azure", Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, b)}
	}
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("azure submit: missing Location header")
	}
	return loc, nil
}

func (c *AzureBatch) poll(ctx context.Context, transcriptionURL string) (pollState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, transcriptionURL, nil)
	if err != nil {
		return stateFailed, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	resp, err := c.client.Do(req)
	if err != nil {
		return stateFailed, &errs.TransientError{Vendor: "azure", Err: err}
	}
	defer resp.Body.Close()
	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return stateFailed, err
	}
	switch out.Status {
	case "Succeeded":
		return stateSucceeded, nil
	case "Failed":
		return stateFailed, fmt.Errorf("azure transcription failed")
	default:
		return stateRunning, nil
	}
}

func (c *AzureBatch) fetchResults(ctx context.Context, transcriptionURL string, req Request) ([]segment.Segment, map[string]any, error) {
	filesReq, err := http.NewRequestWithContext(ctx, http.MethodGet, transcriptionURL+"/files", nil)
	if err != nil {
		return nil, nil, err
	}
	filesReq.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	resp, err := c.client.Do(filesReq)
	if err != nil {
		return nil, nil, &errs.TransientError{Vendor: "azure", Err: err}
	}
	defer resp.Body.Close()

	var files struct {
		Values []struct {
			Kind  string `json:"kind"`
			Links struct {
				ContentURL string `json:"contentUrl"`
			} `json:"links"`
		} `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, nil, &errs.ParseError{Stage: "asr_azure", Err: err}
	}

	var contentURL string
	for _, v := range files.Values {
		if v.Kind == "Transcription" {
			contentURL = v.Links.ContentURL
			break
		}
	}
	if contentURL == "" {
		return nil, nil, fmt.Errorf("azure: no transcription file found")
	}

	contentReq, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, nil, err
	}
	contentResp, err := c.client.Do(contentReq)
	if err != nil {
		return nil, nil, &errs.TransientError{Vendor: "azure", Err: err}
	}
	defer contentResp.Body.Close()

	var payload struct {
		RecognizedPhrases []struct {
			Speaker int     `json:"speaker"`
			Offset  float64 `json:"offsetInTicks"`
			Duration float64 `json:"durationInTicks"`
			NBest   []struct {
				Display string `json:"display"`
				Words   []struct {
					Word   string  `json:"word"`
					Offset float64 `json:"offsetInTicks"`
					Duration float64 `json:"durationInTicks"`
				} `json:"words"`
			} `json:"nBest"`
		} `json:"recognizedPhrases"`
	}
	data, err := io.ReadAll(contentResp.Body)
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, nil, &errs.ParseError{Stage: "asr_azure", Err: err}
	}

	const ticksPerSecond = 10_000_000.0
	var vendorSegs []vendorSegment
	for _, p := range payload.RecognizedPhrases {
		if len(p.NBest) == 0 {
			continue
		}
		best := p.NBest[0]
		var words []vendorWord
		for _, w := range best.Words {
			words = append(words, vendorWord{
				Text:  w.Word,
				Start: w.Offset / ticksPerSecond,
				End:   (w.Offset + w.Duration) / ticksPerSecond,
			})
		}
		vendorSegs = append(vendorSegs, vendorSegment{
			Text:    best.Display,
			Start:   p.Offset / ticksPerSecond,
			End:     (p.Offset + p.Duration) / ticksPerSecond,
			Speaker: fmt.Sprintf("%d", p.Speaker),
			Words:   words,
		})
	}

	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	return toSegments(vendorSegs), raw, nil
}

// AzureRealtime implements Transcriber by draining Azure's realtime
// recognition REST-ish conversation transcription endpoint in one shot
// against a complete recording — the pipeline treats recordings as complete
// files (§1 Non-goals exclude true streaming capture), so "realtime" here
// means "single-request, no batch-job polling" rather than a live stream.
type AzureRealtime struct {
	key    string
	region string
	client *http.Client
	retry  retry.Policy
}

// NewAzureRealtime creates an Azure realtime-style single-shot client.
func NewAzureRealtime(key, region string) *AzureRealtime {
	return &AzureRealtime{
		key:    key,
		region: region,
		client: httputil.NewVendorJobClient(2 * time.Minute),
		retry:  retry.Default(),
	}
}

func (c *AzureRealtime) Name() string { return "AzureRealtime" }

func (c *AzureRealtime) Transcribe(ctx context.Context, req Request, sink progress.Sink) (*segment.Diarization, error) {
	if c.key == "" || c.region == "" {
		return nil, &errs.ConfigError{Field: "AZURE_SPEECH_KEY/AZURE_SPEECH_REGION", Msg: "missing"}
	}
	emitPoll(sink, "", "step1", 1, 1, stateRunning, "azure realtime request")

	url := fmt.Sprintf("https://%s.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1?language=%s", c.region, orAuto(req.Language))

	var segs []segment.Segment
	var raw map[string]any
	err := retry.Do(ctx, c.retry, c.Name(), func(ctx context.Context, attempt int) error {
		s, r, err := c.recognize(ctx, url, req.AudioRef)
		if err != nil {
			return err
		}
		segs, raw = s, r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("azure realtime: %w", err)
	}
	return buildDiarization("AzureRealtime", req.AudioRef, req.Language, durationOf(segs), segs, raw), nil
}

func (c *AzureRealtime) recognize(ctx context.Context, url, audioPath string) ([]segment.Segment, map[string]any, error) {
	f, err := openAudio(audioPath)
	if err != nil {
		return nil, nil, &errs.ValidationError{Field: "audio_source", Msg: err.Error()}
	}
	defer f.Close()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, f)
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "audio/wav; codecs=audio/pcm; samplerate=16000")
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, nil, &errs.TransientError{Vendor: "azure-realtime", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, nil, &errs.TransientError{Vendor: "azure-realtime", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, &errs.PermanentError{Vendor: "azure-realtime", Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, b)}
	}

	var out struct {
		DisplayText string `json:"DisplayText"`
		Duration    int64  `json:"Duration"`
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, nil, &errs.ParseError{Stage: "asr_azure_realtime", Err: err}
	}
	const ticksPerSecond = 10_000_000.0
	segs := toSegments([]vendorSegment{{
		Text:  out.DisplayText,
		Start: 0,
		End:   float64(out.Duration) / ticksPerSecond,
	}})
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	return segs, raw, nil
}
