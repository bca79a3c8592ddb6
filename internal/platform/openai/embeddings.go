package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
)

type embeddingsRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage *usage `json:"usage"`
}

func (r *embeddingsResponse) tokens() (int, int) { return r.Usage.counts() }

func (c *Client) Model() string { return c.embedModel }

// Embed returns one vector per input, in input order. Empty inputs are sent
// as a single space since the API rejects empty strings.
func (c *Client) Embed(ctx context.Context, inputs []string) (llm.Embeddings, error) {
	if len(inputs) == 0 {
		return llm.Embeddings{Model: c.embedModel}, nil
	}
	clean := make([]string, len(inputs))
	for i, s := range inputs {
		if s = strings.TrimSpace(s); s == "" {
			s = " "
		}
		clean[i] = s
	}

	var resp embeddingsResponse
	req := embeddingsRequest{Model: c.embedModel, Input: clean, Dimensions: c.embedDims}
	if err := c.post(ctx, "/v1/embeddings", c.embedModel, req, &resp); err != nil {
		return llm.Embeddings{}, permanentIfClientError(err)
	}

	vectors := make([][]float32, len(clean))
	for pos, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(vectors) || vectors[idx] != nil {
			idx = pos
		}
		if idx < len(vectors) {
			vectors[idx] = d.Embedding
		}
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return llm.Embeddings{}, fmt.Errorf("openai embeddings missing index %d: requested=%d returned=%d model=%s", i, len(clean), len(resp.Data), c.embedModel)
		}
	}

	tokensIn, _ := resp.tokens()
	if tokensIn == 0 {
		for _, s := range clean {
			tokensIn += llm.EstimateTokens(s)
		}
	}
	model := resp.Model
	if model == "" {
		model = c.embedModel
	}
	return llm.Embeddings{Vectors: vectors, TokensIn: tokensIn, Model: model}, nil
}
