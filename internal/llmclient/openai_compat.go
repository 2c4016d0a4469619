package llmclient

import (
	"bufio"
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
	"github.com/overlapdiarize/pipeline/internal/jsonsalvage"
	"github.com/overlapdiarize/pipeline/internal/retry"
)

// OpenAICompat implements ChatModel against any OpenAI-compatible
// /chat/completions endpoint (§4.2, §6). The same implementation backs
// both the remote and local roles; only the constructor differs in whether
// reasoning_effort is forwarded.
type OpenAICompat struct {
	name          string
	baseURL       string
	apiKey        string
	client        *http.Client
	retry         retry.Policy
	sendReasoning bool
}

// NewRemote builds a remote OpenAI-compatible client. Remote back-ends are
// the only ones that receive reasoning_effort (§4.2).
func NewRemote(name, baseURL, apiKey string, timeout time.Duration) *OpenAICompat {
	return &OpenAICompat{
		name:          name,
		baseURL:       baseURL,
		apiKey:        apiKey,
		client:        httputil.NewRemoteChatClient(timeout),
		retry:         retry.Default(),
		sendReasoning: true,
	}
}

// NewLocal builds a local OpenAI-compatible client (e.g. an Ollama or
// llama.cpp server). reasoning_effort is never forwarded locally (§4.2).
func NewLocal(name, baseURL, apiKey string, timeout time.Duration) *OpenAICompat {
	return &OpenAICompat{
		name:          name,
		baseURL:       baseURL,
		apiKey:        apiKey,
		client:        httputil.NewLocalChatClient(timeout),
		retry:         retry.Default(),
		sendReasoning: false,
	}
}

func (c *OpenAICompat) Name() string { return c.name }

func (c *OpenAICompat) Chat(ctx context.Context, req Request) (string, error) {
	payload := map[string]any{
		"model": req.Model,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.User},
		},
		"temperature": req.Temperature,
		"stream":      true,
	}
	if len(req.Stop) > 0 {
		payload["stop"] = req.Stop
	}
	if c.sendReasoning && req.ReasoningEffort != "" {
		payload["reasoning"] = map[string]string{"effort": req.ReasoningEffort}
	}

	var result streamResult
	err := retry.Do(ctx, c.retry, c.name, func(ctx context.Context, attempt int) error {
		r, err := c.stream(ctx, payload, req.Stop)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s chat: %w", c.name, err)
	}
	if strings.TrimSpace(result.Content) == "" {
		return "", &EmptyContentError{Vendor: c.name, Reasoning: result.Reasoning}
	}
	return result.Content, nil
}

func (c *OpenAICompat) stream(ctx context.Context, payload map[string]any, stop []string) (streamResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return streamResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return streamResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return streamResult{}, &errs.TransientError{Vendor: c.name, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return streamResult{}, &errs.TransientError{Vendor: c.name, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return streamResult{}, &errs.PermanentError{Vendor: c.name, Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, b)}
	}

	return consumeChatStream(resp.Body, stop)
}

// streamResult is what one SSE stream accumulates: the normal message
// content, and separately whatever reasoning/thinking text the vendor sent
// alongside it. Reasoning-model backends sometimes leave Content empty and
// put the entire answer in the reasoning trace instead (§4.2).
type streamResult struct {
	Content   string
	Reasoning string
}

// consumeChatStream drains an SSE /chat/completions response, accumulating
// delta content and delta reasoning separately. It terminates early either
// on a configured stop sequence or the moment the accumulated content forms
// a brace-balanced top-level JSON object — the Markdown Pipeline's "stop as
// soon as the table is closed" behavior (§4.2, §4.7) — whichever comes
// first. Reasoning never triggers early termination; it only accumulates.
func consumeChatStream(body io.Reader, stop []string) (streamResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var content strings.Builder
	var reasoning strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string `json:"content"`
					Reasoning string `json:"reasoning"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if json.Unmarshal([]byte(data), &chunk) != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Reasoning != "" {
			reasoning.WriteString(delta.Reasoning)
		}
		if delta.Content == "" {
			continue
		}
		content.WriteString(delta.Content)

		current := content.String()
		for _, s := range stop {
			if s != "" && strings.Contains(current, s) {
				return streamResult{Content: current[:strings.Index(current, s)], Reasoning: reasoning.String()}, nil
			}
		}
		if _, ok := jsonsalvage.ExtractBalancedBraces(current); ok {
			return streamResult{Content: current, Reasoning: reasoning.String()}, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return streamResult{}, err
	}
	return streamResult{Content: content.String(), Reasoning: reasoning.String()}, nil
}
