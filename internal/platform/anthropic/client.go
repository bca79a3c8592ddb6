package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropicclient "github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/pkg/httpx"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

const defaultMaxTokens = 1500

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:     envutil.String("ANTHROPIC_API_KEY", ""),
		BaseURL:    envutil.String("ANTHROPIC_BASE_URL", ""),
		Model:      envutil.String("ANTHROPIC_MODEL", "claude-haiku-4-5"),
		MaxRetries: envutil.IntClamp("ANTHROPIC_MAX_RETRIES", 2, 0, 10),
	}
}

// Client is an llm.Completer over the Anthropic Messages API.
type Client struct {
	log    *logger.Logger
	client anthropicclient.Client
	model  string
}

var _ llm.Completer = (*Client)(nil)

func NewClient(log *logger.Logger, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY")
	}
	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(apiKey),
		anthropicoption.WithMaxRetries(cfg.MaxRetries),
	}
	if endpoint := strings.TrimSpace(cfg.BaseURL); endpoint != "" {
		opts = append(opts, anthropicoption.WithBaseURL(strings.TrimRight(endpoint, "/")))
	}
	return &Client{
		log:    log.With("service", "AnthropicClient"),
		client: anthropicclient.NewClient(opts...),
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

// statusError exposes the SDK's HTTP status to httpx retry classification.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string       { return e.err.Error() }
func (e *statusError) Unwrap() error       { return e.err }
func (e *statusError) HTTPStatusCode() int { return e.status }

func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.Completion, error) {
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = c.model
	}
	maxTokens := in.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicclient.MessageNewParams{
		Model:     anthropicclient.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropicclient.MessageParam{
			anthropicclient.NewUserMessage(anthropicclient.NewTextBlock(in.Prompt)),
		},
	}
	if s := strings.TrimSpace(in.System); s != "" {
		params.System = []anthropicclient.TextBlockParam{{Text: s}}
	}
	if in.Temperature > 0 {
		params.Temperature = anthropicclient.Float(in.Temperature)
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropicclient.Error
		status := "error"
		if errors.As(err, &apiErr) {
			status = fmt.Sprintf("%d", apiErr.StatusCode)
			err = &statusError{status: apiErr.StatusCode, err: err}
		}
		if metrics := observability.Current(); metrics != nil {
			metrics.ObserveLLMRequest(model, "/v1/messages", status, time.Since(start), 0, 0)
		}
		if httpx.IsRetryableError(err) {
			c.log.Warn("Anthropic request failed", "model", model, "error", err.Error())
		}
		return llm.Completion{}, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return llm.Completion{}, fmt.Errorf("anthropic response had no text content (stop_reason=%s)", msg.StopReason)
	}

	tokensIn := int(msg.Usage.InputTokens)
	tokensOut := int(msg.Usage.OutputTokens)
	if metrics := observability.Current(); metrics != nil {
		metrics.ObserveLLMRequest(model, "/v1/messages", "200", time.Since(start), tokensIn, tokensOut)
	}
	return llm.Completion{
		Text:      text.String(),
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Model:     string(msg.Model),
	}, nil
}
