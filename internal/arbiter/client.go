package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"sidekick/internal/model"
)

// Verdict is the structured reply of an arbitration backend.
type Verdict struct {
	State      model.State `json:"state"`
	Confidence float64     `json:"confidence"`
	Reasoning  string      `json:"reasoning"`
}

// Backend classifies ambiguous cases. Implementations need not be safe for
// concurrent use; the Loader serializes every call.
type Backend interface {
	Classify(ctx context.Context, systemPrompt, userPrompt string) (Verdict, error)
	Close() error
}

// Client talks to any OpenAI-compatible chat completions endpoint
// (llama.cpp server, Ollama, vLLM).
type Client struct {
	baseURL string
	opts    *Options
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(opts ...Option) *Client {
	o := DefaultOptions()
	o.Apply(opts...)
	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: o.Timeout}
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL: strings.TrimSuffix(o.BaseURL, "/"),
		opts:    o,
		http:    httpClient,
		logger:  logger.With("component", "arbiter.client"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (c *Client) Classify(ctx context.Context, systemPrompt, userPrompt string) (Verdict, error) {
	start := time.Now()
	payload := chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	}
	resp, err := c.post(ctx, "/chat/completions", payload)
	if err != nil {
		return Verdict{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Verdict{}, parseError(resp)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verdict{}, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return Verdict{}, fmt.Errorf("%w: no choices returned", ErrMalformedVerdict)
	}
	content := out.Choices[0].Message.Content
	v, err := ParseVerdict(content)
	if err != nil {
		c.logger.Warn("unparseable verdict", "content", content)
		return Verdict{}, err
	}
	c.logger.Debug("verdict", "state", v.State, "confidence", v.Confidence, "latency_ms", time.Since(start).Milliseconds())
	return v, nil
}

// Models lists the model ids served by the endpoint.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}
	var out modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	ids := make([]string, 0, len(out.Data))
	for _, m := range out.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.doWithRetry(ctx, req, body)
}

func (c *Client) authorize(req *http.Request) {
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}
}

func (c *Client) doWithRetry(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.RetryDelay * time.Duration(attempt)):
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn("request failed, retrying", "attempt", attempt+1, "err", err)
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = parseError(resp)
			resp.Body.Close()
			c.logger.Warn("retrying request", "attempt", attempt+1, "status", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	var wrapped struct {
		Error struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wrapped) == nil && wrapped.Error.Message != "" {
		apiErr.Message = wrapped.Error.Message
		if wrapped.Error.Code != nil {
			apiErr.Code = fmt.Sprint(wrapped.Error.Code)
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// ParseVerdict extracts the first JSON object from a model reply. Replies
// wrapped in prose or code fences are accepted and text after the object is
// ignored; an unknown state or a missing object is ErrMalformedVerdict.
func ParseVerdict(content string) (Verdict, error) {
	type reply struct {
		State      string   `json:"state"`
		Confidence *float64 `json:"confidence"`
		Reasoning  string   `json:"reasoning"`
	}
	var raw reply
	var decodeErr error
	found := false
	for i := strings.Index(content, "{"); i >= 0; {
		raw = reply{}
		decodeErr = json.NewDecoder(strings.NewReader(content[i:])).Decode(&raw)
		if decodeErr == nil {
			found = true
			break
		}
		next := strings.Index(content[i+1:], "{")
		if next < 0 {
			break
		}
		i += next + 1
	}
	if !found {
		if decodeErr != nil {
			return Verdict{}, fmt.Errorf("%w: %v", ErrMalformedVerdict, decodeErr)
		}
		return Verdict{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedVerdict)
	}
	state := model.State(strings.ToLower(strings.TrimSpace(raw.State)))
	if !state.Valid() {
		return Verdict{}, fmt.Errorf("%w: unknown state %q", ErrMalformedVerdict, raw.State)
	}
	confidence := 0.5
	if raw.Confidence != nil && !math.IsNaN(*raw.Confidence) {
		confidence = math.Min(1, math.Max(0, *raw.Confidence))
	}
	return Verdict{State: state, Confidence: confidence, Reasoning: raw.Reasoning}, nil
}
