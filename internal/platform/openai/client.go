package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/pkg/httpx"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	EmbedModel string
	// EmbedDimensions truncates text-embedding-3 vectors when > 0.
	EmbedDimensions int
	Timeout         time.Duration
	MaxRetries      int
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:          envutil.String("OPENAI_API_KEY", ""),
		BaseURL:         envutil.String("OPENAI_BASE_URL", "https://api.openai.com"),
		Model:           envutil.String("OPENAI_MODEL", "gpt-4o-mini"),
		EmbedModel:      envutil.String("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		EmbedDimensions: envutil.IntClamp("OPENAI_EMBED_DIMENSIONS", 0, 0, 4096),
		Timeout:         time.Duration(envutil.IntClamp("OPENAI_TIMEOUT_SECONDS", 180, 1, 3600)) * time.Second,
		MaxRetries:      envutil.IntClamp("OPENAI_MAX_RETRIES", 4, 0, 10),
	}
}

// Client speaks the OpenAI (or a compatible) HTTP API: /v1/embeddings for
// chunk vectors and /v1/responses for section completions.
type Client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	embedModel string
	embedDims  int
	httpClient *http.Client
	maxRetries int
	backoff    httpx.Backoff
}

var (
	_ llm.Completer = (*Client)(nil)
	_ llm.Embedder  = (*Client)(nil)
)

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}
	return &Client{
		log:        log.With("service", "OpenAIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      strings.TrimSpace(cfg.Model),
		embedModel: strings.TrimSpace(cfg.EmbedModel),
		embedDims:  cfg.EmbedDimensions,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: max(cfg.MaxRetries, 0),
		backoff:    httpx.DefaultBackoff(),
	}, nil
}

// APIError is a non-2xx reply. Type and Code come from the error object
// the API returns; Body keeps the raw text when it is not JSON.
type APIError struct {
	StatusCode int
	Type       string
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Body
	}
	if e.Code != "" {
		return fmt.Sprintf("openai http %d (%s): %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("openai http %d: %s", e.StatusCode, msg)
}

func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

func newAPIError(status int, raw []byte) *APIError {
	out := &APIError{StatusCode: status, Body: strings.TrimSpace(string(raw))}
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &env) != nil || len(env.Error) == 0 {
		return out
	}
	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	}
	if json.Unmarshal(env.Error, &obj) == nil {
		out.Message, out.Type = obj.Message, obj.Type
		if obj.Code != nil {
			out.Code = fmt.Sprint(obj.Code)
		}
		return out
	}
	var s string
	if json.Unmarshal(env.Error, &s) == nil {
		out.Message = s
	}
	return out
}

// usage covers both the responses (input/output) and legacy
// (prompt/completion) field names.
type usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *usage) counts() (in, out int) {
	if u == nil {
		return 0, 0
	}
	in, out = u.InputTokens, u.OutputTokens
	if in == 0 && out == 0 {
		in, out = u.PromptTokens, u.CompletionTokens
	}
	if in == 0 && out == 0 {
		in = u.TotalTokens
	}
	return in, out
}

// post sends body to path and decodes a 2xx reply into out, retrying
// transient failures with backoff.
func (c *Client) post(ctx context.Context, path, model string, body any, out interface{ tokens() (int, int) }) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("openai encode: %w", err)
	}
	start := time.Now()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp, err := c.send(ctx, path, payload, out)
		if err == nil {
			in, outTok := out.tokens()
			observability.Current().ObserveLLMRequest(model, path, strconv.Itoa(resp.StatusCode), time.Since(start), in, outTok)
			return nil
		}
		if !httpx.IsRetryableError(err) || attempt >= c.maxRetries {
			observability.Current().ObserveLLMRequest(model, path, outcome(resp, err), time.Since(start), 0, 0)
			return err
		}
		wait := c.backoff.Delay(attempt, resp)
		c.log.Warn("OpenAI request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", wait.String(),
			"error", err.Error(),
		)
		if err := httpx.SleepContext(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *Client) send(ctx context.Context, path string, payload []byte, out any) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, newAPIError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp, llm.Permanent(fmt.Errorf("openai decode: %w", err))
	}
	return resp, nil
}

func outcome(resp *http.Response, err error) string {
	switch {
	case resp != nil:
		return strconv.Itoa(resp.StatusCode)
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	}
	return "error"
}

// permanentIfClientError stops callers above the transport from retrying
// a request the API rejected as malformed or unauthorized.
func permanentIfClientError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && !httpx.IsRetryableHTTPStatus(apiErr.StatusCode) {
		return llm.Permanent(err)
	}
	return err
}
