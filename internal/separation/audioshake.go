package separation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/overlapdiarize/pipeline/internal/errs"
	"github.com/overlapdiarize/pipeline/internal/httputil"
	"github.com/overlapdiarize/pipeline/internal/objectstore"
	"github.com/overlapdiarize/pipeline/internal/progress"
	"github.com/overlapdiarize/pipeline/internal/retry"
)

// AudioShake implements Separator against the AudioShake-class HTTPS API
// (§4.2, §6): the source audio must be reachable over HTTPS, so a local
// upload is first presigned via objectstore before the job is submitted.
type AudioShake struct {
	apiKey  string
	baseURL string
	store   *objectstore.Presigner // nil when no bucket is configured
	client  *http.Client
	retry   retry.Policy
}

// NewAudioShake creates an AudioShake client. store may be nil — in that
// case any call that needs a presigned URL fails fast with the
// HTTPS-required error rather than attempting the request (§9).
func NewAudioShake(apiKey, baseURL string, store *objectstore.Presigner) *AudioShake {
	if baseURL == "" {
		baseURL = "https://groovy.audioshake.ai"
	}
	return &AudioShake{
		apiKey:  apiKey,
		baseURL: baseURL,
		store:   store,
		client:  httputil.NewVendorJobClient(15 * time.Minute),
		retry:   retry.Default(),
	}
}

func (a *AudioShake) Name() string { return "AudioShake" }

func (a *AudioShake) Separate(ctx context.Context, req Request, sink progress.Sink) (*Result, error) {
	if a.apiKey == "" {
		return nil, &errs.ConfigError{Field: "AUDIOSHAKE_API_KEY", Msg: "missing"}
	}

	httpsURL, err := a.resolveHTTPSURL(ctx, req.AudioRef)
	if err != nil {
		return nil, err
	}

	var taskID string
	err = retry.Do(ctx, a.retry, a.Name(), func(ctx context.Context, attempt int) error {
		id, err := a.submit(ctx, httpsURL)
		if err != nil {
			return err
		}
		taskID = id
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audioshake submit: %w", err)
	}
	progress.Emit(sink, progress.Event{Type: "step-progress", Step: "step2", Status: "processing", Description: "audioshake job submitted"})

	var stems []Stem
	for attempt := 1; attempt <= 300; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		done, s, err := a.poll(ctx, taskID)
		if err != nil {
			return nil, &errs.TransientError{Vendor: "audioshake", Err: err}
		}
		if done {
			stems = s
			break
		}
		progress.Emit(sink, progress.Event{Type: "step-progress", Step: "step2", Status: "processing", Description: "audioshake job running", Details: map[string]any{"attempt": attempt}})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	if stems == nil {
		return nil, &errs.TransientError{Vendor: "audioshake", Err: fmt.Errorf("task %s did not complete", taskID)}
	}
	return &Result{TaskID: taskID, Stems: stems}, nil
}

// resolveHTTPSURL returns an HTTPS URL for audioRef, presigning a local
// upload through the configured object store. The HTTPS-URL error produced
// here is AudioShake-specific and MUST NOT be raised by PyAnnote/SpeechBrain
// even though they share the same Request shape (§4.2, B4).
func (a *AudioShake) resolveHTTPSURL(ctx context.Context, audioRef string) (string, error) {
	if strings.HasPrefix(audioRef, "https://") {
		return audioRef, nil
	}
	if a.store == nil {
		return "", errs.ErrHTTPSRequired("AudioShake")
	}
	key := "audioshake/" + fmt.Sprintf("%d", time.Now().UnixNano())
	localPath := strings.TrimPrefix(audioRef, "file://")
	if err := a.store.PutLocalFile(ctx, key, localPath); err != nil {
		return "", errs.ErrHTTPSRequired("AudioShake")
	}
	url, err := a.store.PresignGET(ctx, key)
	if err != nil {
		return "", errs.ErrHTTPSRequired("AudioShake")
	}
	return url, nil
}

func (a *AudioShake) submit(ctx context.Context, audioURL string) (string, error) {
	payload := map[string]any{"url": audioURL}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v3/stem", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", &errs.TransientError{Vendor: "audioshake", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return "", &errs.TransientError{Vendor: "audioshake", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &errs.PermanentError{Vendor: "audioshake", Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, b)}
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (a *AudioShake) poll(ctx context.Context, taskID string) (bool, []Stem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v3/stem/"+taskID, nil)
	if err != nil {
		return false, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	resp, err := a.client.Do(req)
	if err != nil {
		return false, nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Status string `json:"status"`
		Stems  []struct {
			Name         string `json:"name"`
			URL          string `json:"url"`
			IsBackground bool   `json:"isBackground"`
			Format       string `json:"format"`
		} `json:"stems"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, nil, err
	}
	if out.Status != "completed" {
		return false, nil, nil
	}
	stems := make([]Stem, 0, len(out.Stems))
	for i, s := range out.Stems {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("SPEAKER_%02d", i)
		}
		stems = append(stems, Stem{Name: name, AudioRef: s.URL, IsBackground: s.IsBackground, Format: s.Format})
	}
	return true, stems, nil
}
