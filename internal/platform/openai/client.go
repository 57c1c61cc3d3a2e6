package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/consilience-ai/consilience-backend/internal/observability"
	"github.com/consilience-ai/consilience-backend/internal/pkg/httpx"
	"github.com/consilience-ai/consilience-backend/internal/platform/logger"
)

// Client is the OpenAI API surface the pipeline depends on: embeddings plus
// chat completions in free-form and shape-parsed variants.
type Client interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)

	// Complete returns the model's free-form text reply.
	Complete(ctx context.Context, system, user string, opts CompleteOptions) (string, error)

	// Shape-parsed completions. Parsing is lenient (first matching token or
	// JSON fragment); an unparseable reply fails with ErrUnparseable.
	CompleteYesNo(ctx context.Context, system, user string, opts CompleteOptions) (bool, error)
	CompleteScore(ctx context.Context, system, user string, opts CompleteOptions) (float64, error)
	CompleteQuestions(ctx context.Context, system, user string, opts CompleteOptions) ([]string, error)
}

// CompleteOptions carries per-call generation settings. Zero values fall back
// to the client defaults.
type CompleteOptions struct {
	Model       string
	MaxTokens   int
	Temperature *float64

	// DisableRetry skips the retry loop for calls that must not be repeated
	// (final answer synthesis).
	DisableRetry bool
}

// Config is resolved once at startup and passed in; the client reads no
// environment on its own.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string

	LLMTimeout   time.Duration
	EmbedTimeout time.Duration

	// MaxRetries bounds additional attempts after the first (default 1).
	MaxRetries int

	// MaxInflight caps concurrent completion calls across all requests;
	// excess callers queue on the semaphore.
	MaxInflight int
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string

	httpClient  *http.Client
	embedClient *http.Client

	maxRetries int
	inflight   *semaphore.Weighted
}

func NewClient(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-4o"
	}
	embedModel := strings.TrimSpace(cfg.EmbedModel)
	if embedModel == "" {
		embedModel = "text-embedding-3-small"
	}

	llmTimeout := cfg.LLMTimeout
	if llmTimeout <= 0 {
		llmTimeout = 30 * time.Second
	}
	embedTimeout := cfg.EmbedTimeout
	if embedTimeout <= 0 {
		embedTimeout = 10 * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	if cfg.MaxRetries == 0 {
		maxRetries = 1
	}

	maxInflight := cfg.MaxInflight
	if maxInflight <= 0 {
		maxInflight = 16
	}

	return &client{
		log:         log.With("service", "OpenAIClient"),
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		embedModel:  embedModel,
		httpClient:  &http.Client{Timeout: llmTimeout},
		embedClient: &http.Client{Timeout: embedTimeout},
		maxRetries:  maxRetries,
		inflight:    semaphore.NewWeighted(int64(maxInflight)),
	}, nil
}

type openAIHTTPError struct {
	StatusCode int
	Body       string
}

func (e *openAIHTTPError) Error() string {
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, e.Body)
}

func (e *openAIHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, httpClient *http.Client, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, httpClient *http.Client, method, path string, body any, out any, maxRetries int) error {
	backoff := 1 * time.Second
	start := time.Now()
	model := extractModelFromRequest(body)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, httpClient, method, path, body)
		if err == nil {
			if m := observability.Current(); m != nil {
				m.ObserveLLMRequest(model, path, statusFromResp(resp), time.Since(start))
			}
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("openai decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		if !httpx.IsRetryableError(err) || attempt == maxRetries {
			if m := observability.Current(); m != nil {
				m.ObserveLLMRequest(model, path, statusFromRespErr(resp, err), time.Since(start))
			}
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		time.Sleep(sleepFor)
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func statusFromResp(resp *http.Response) string {
	if resp == nil {
		return "0"
	}
	return fmt.Sprintf("%d", resp.StatusCode)
}

func statusFromRespErr(resp *http.Response, err error) string {
	if resp != nil {
		return fmt.Sprintf("%d", resp.StatusCode)
	}
	if err != nil {
		return "transport_error"
	}
	return "0"
}

func extractModelFromRequest(body any) string {
	switch v := body.(type) {
	case responsesRequest:
		return v.Model
	case *responsesRequest:
		if v != nil {
			return v.Model
		}
	case embeddingsRequest:
		return v.Model
	case *embeddingsRequest:
		if v != nil {
			return v.Model
		}
	}
	return "unknown"
}

// -------------------- Embeddings --------------------

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return [][]float32{}, nil
	}

	// The embeddings endpoint rejects empty strings.
	clean := make([]string, len(inputs))
	for i := range inputs {
		s := strings.TrimSpace(inputs[i])
		if s == "" {
			s = " "
		}
		clean[i] = s
	}

	req := embeddingsRequest{
		Model: c.embedModel,
		Input: clean,
	}

	var resp embeddingsResponse
	if err := c.do(ctx, c.embedClient, http.MethodPost, "/v1/embeddings", req, &resp, c.maxRetries); err != nil {
		return nil, err
	}

	out := assembleEmbeddings(resp, len(clean))
	if hasMissingEmbeddings(out) {
		c.log.Warn("Embeddings response missing indices; retrying once",
			"requested", len(clean),
			"returned", len(resp.Data),
			"model", c.embedModel,
		)
		var resp2 embeddingsResponse
		if err := c.do(ctx, c.embedClient, http.MethodPost, "/v1/embeddings", req, &resp2, c.maxRetries); err != nil {
			return nil, err
		}
		out = assembleEmbeddings(resp2, len(clean))
		if hasMissingEmbeddings(out) {
			return nil, fmt.Errorf("openai embeddings missing indices after retry: requested=%d returned=%d model=%s",
				len(clean), len(resp2.Data), c.embedModel)
		}
	}
	return out, nil
}

// assembleEmbeddings places vectors by their response index, falling back to
// positional order when the upstream omits indices.
func assembleEmbeddings(resp embeddingsResponse, n int) [][]float32 {
	out := make([][]float32, n)
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= n {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	if hasMissingEmbeddings(out) && len(resp.Data) == n {
		for i := 0; i < n; i++ {
			if out[i] != nil {
				continue
			}
			d := resp.Data[i]
			vec := make([]float32, len(d.Embedding))
			for j, f := range d.Embedding {
				vec[j] = float32(f)
			}
			out[i] = vec
		}
	}
	return out
}

func hasMissingEmbeddings(vecs [][]float32) bool {
	for _, v := range vecs {
		if v == nil {
			return true
		}
	}
	return false
}

// -------------------- Completions --------------------

type responsesRequest struct {
	Model string `json:"model"`

	Input []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	} `json:"input"`

	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"max_output_tokens,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Refusal string `json:"refusal,omitempty"`
}

func extractOutputText(resp responsesResponse) string {
	var out strings.Builder
	for _, item := range resp.Output {
		if item.Type == "message" && item.Role == "assistant" {
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.WriteString(c.Text)
				}
			}
		}
	}
	return out.String()
}

func (c *client) Complete(ctx context.Context, system, user string, opts CompleteOptions) (string, error) {
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.inflight.Release(1)

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = c.model
	}

	req := responsesRequest{
		Model: model,
		Input: []struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		}{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:     opts.Temperature,
		MaxOutputTokens: opts.MaxTokens,
	}

	retries := c.maxRetries
	if opts.DisableRetry {
		retries = 0
	}

	var resp responsesResponse
	err := c.do(ctx, c.httpClient, http.MethodPost, "/v1/responses", &req, &resp, retries)
	if err != nil && req.Temperature != nil && isUnsupportedTemperatureParam(err) {
		// Some models reject the temperature parameter outright; drop it and
		// try once more.
		req.Temperature = nil
		err = c.do(ctx, c.httpClient, http.MethodPost, "/v1/responses", &req, &resp, retries)
	}
	if err != nil {
		return "", err
	}
	if resp.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", resp.Refusal)
	}

	text := extractOutputText(resp)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no output_text found in response")
	}
	return text, nil
}

func (c *client) CompleteYesNo(ctx context.Context, system, user string, opts CompleteOptions) (bool, error) {
	text, err := c.Complete(ctx, system, user, opts)
	if err != nil {
		return false, err
	}
	v, ok := ParseYesNo(text)
	if !ok {
		return false, fmt.Errorf("%w: yes/no not found in %q", ErrUnparseable, truncate(text, 120))
	}
	return v, nil
}

func (c *client) CompleteScore(ctx context.Context, system, user string, opts CompleteOptions) (float64, error) {
	text, err := c.Complete(ctx, system, user, opts)
	if err != nil {
		return 0, err
	}
	v, ok := ParseScore(text)
	if !ok {
		return 0, fmt.Errorf("%w: score not found in %q", ErrUnparseable, truncate(text, 120))
	}
	return v, nil
}

func (c *client) CompleteQuestions(ctx context.Context, system, user string, opts CompleteOptions) ([]string, error) {
	text, err := c.Complete(ctx, system, user, opts)
	if err != nil {
		return nil, err
	}
	qs := ParseQuestions(text)
	if len(qs) == 0 {
		return nil, fmt.Errorf("%w: no questions found in %q", ErrUnparseable, truncate(text, 120))
	}
	return qs, nil
}

func isUnsupportedTemperatureParam(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "temperature") {
		return false
	}
	return strings.Contains(msg, "unsupported") ||
		strings.Contains(msg, "unknown parameter") ||
		strings.Contains(msg, "does not support") ||
		strings.Contains(msg, "not supported")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
