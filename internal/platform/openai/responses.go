package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
)

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model           string           `json:"model"`
	Input           []responsesInput `json:"input"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
}

type responsesResponse struct {
	Model  string `json:"model"`
	Status string `json:"status"`
	Output []struct {
		Type    string `json:"type"`
		Role    string `json:"role,omitempty"`
		Content []struct {
			Type    string `json:"type"`
			Text    string `json:"text,omitempty"`
			Refusal string `json:"refusal,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Usage *usage `json:"usage"`
}

func (r *responsesResponse) tokens() (int, int) { return r.Usage.counts() }

// text joins the assistant output_text parts. A refusal part is reported
// separately so it can be surfaced as a permanent failure.
func (r *responsesResponse) text() (string, string) {
	var out, refusal strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" || item.Role != "assistant" {
			continue
		}
		for _, part := range item.Content {
			switch part.Type {
			case "output_text":
				out.WriteString(part.Text)
			case "refusal":
				refusal.WriteString(part.Refusal)
			}
		}
	}
	return out.String(), refusal.String()
}

func (c *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.Completion, error) {
	model := strings.TrimSpace(in.Model)
	if model == "" {
		model = c.model
	}
	req := responsesRequest{Model: model, MaxOutputTokens: in.MaxTokens}
	if s := strings.TrimSpace(in.System); s != "" {
		req.Input = append(req.Input, responsesInput{Role: "system", Content: s})
	}
	req.Input = append(req.Input, responsesInput{Role: "user", Content: in.Prompt})
	if in.Temperature > 0 {
		t := in.Temperature
		req.Temperature = &t
	}

	var resp responsesResponse
	err := c.post(ctx, "/v1/responses", model, req, &resp)
	if err != nil && req.Temperature != nil && rejectsTemperature(err) {
		// Reasoning models only accept the default temperature.
		c.log.Debug("Model rejected temperature; retrying without it", "model", model)
		req.Temperature = nil
		resp = responsesResponse{}
		err = c.post(ctx, "/v1/responses", model, req, &resp)
	}
	if err != nil {
		return llm.Completion{}, permanentIfClientError(err)
	}

	text, refusal := resp.text()
	if refusal != "" {
		return llm.Completion{}, llm.Permanent(fmt.Errorf("model refused: %s", refusal))
	}
	if strings.TrimSpace(text) == "" {
		return llm.Completion{}, fmt.Errorf("openai response had no output_text (status=%s)", resp.Status)
	}

	tokensIn, tokensOut := resp.tokens()
	if tokensIn == 0 && tokensOut == 0 {
		tokensIn = llm.EstimateTokens(in.System) + llm.EstimateTokens(in.Prompt)
		tokensOut = llm.EstimateTokens(text)
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return llm.Completion{Text: text, TokensIn: tokensIn, TokensOut: tokensOut, Model: model}, nil
}

func rejectsTemperature(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return false
	}
	msg := strings.ToLower(apiErr.Message + " " + apiErr.Body)
	if !strings.Contains(msg, "temperature") {
		return false
	}
	for _, frag := range []string{"unsupported", "not supported", "does not support", "only the default"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
