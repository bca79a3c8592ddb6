package costguard

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
)

// defaultOutputTokens bounds completion estimates when the request sets no MaxTokens.
const defaultOutputTokens = 1024

// Embedder returns inner gated by the guard on behalf of userID.
func (g *Guard) Embedder(inner llm.Embedder, userID uuid.UUID) llm.Embedder {
	return &GuardedEmbedder{guard: g, inner: inner, userID: userID}
}

// Completer returns inner gated by the guard on behalf of userID.
func (g *Guard) Completer(inner llm.Completer, userID uuid.UUID) llm.Completer {
	return &GuardedCompleter{guard: g, inner: inner, userID: userID}
}

// GuardedEmbedder authorizes every Embed call before it reaches the provider
// and records the provider's reported usage afterwards.
type GuardedEmbedder struct {
	guard  *Guard
	inner  llm.Embedder
	userID uuid.UUID
}

func (e *GuardedEmbedder) Model() string { return e.inner.Model() }

func (e *GuardedEmbedder) Embed(ctx context.Context, texts []string) (llm.Embeddings, error) {
	est := 0
	for _, t := range texts {
		est += llm.EstimateTokens(t)
	}
	if _, err := e.guard.Authorize(ctx, e.userID, Usage{Kind: KindEmbedding, Model: e.inner.Model(), TokensIn: est}); err != nil {
		return llm.Embeddings{}, err
	}
	out, err := e.inner.Embed(ctx, texts)
	if err != nil {
		return out, err
	}
	model := out.Model
	if model == "" {
		model = e.inner.Model()
	}
	tokens := out.TokensIn
	if tokens == 0 {
		tokens = est
	}
	if rerr := e.guard.Record(ctx, e.userID, Usage{Kind: KindEmbedding, Model: model, TokensIn: tokens}); rerr != nil {
		e.guard.log.Error("Failed to record embedding usage", "user_id", e.userID, "tokens_in", tokens, "error", rerr)
	}
	return out, nil
}

// GuardedCompleter is the completion counterpart of GuardedEmbedder.
type GuardedCompleter struct {
	guard  *Guard
	inner  llm.Completer
	userID uuid.UUID
}

func (c *GuardedCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	out := req.MaxTokens
	if out <= 0 {
		out = defaultOutputTokens
	}
	est := Usage{
		Kind:      KindCompletion,
		Model:     req.Model,
		TokensIn:  llm.EstimateTokens(req.System) + llm.EstimateTokens(req.Prompt),
		TokensOut: out,
	}
	if _, err := c.guard.Authorize(ctx, c.userID, est); err != nil {
		return llm.Completion{}, err
	}
	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return resp, err
	}
	actual := Usage{Kind: KindCompletion, Model: resp.Model, TokensIn: resp.TokensIn, TokensOut: resp.TokensOut}
	if strings.TrimSpace(actual.Model) == "" {
		actual.Model = req.Model
	}
	if actual.TokensIn == 0 && actual.TokensOut == 0 {
		actual.TokensIn = est.TokensIn
		actual.TokensOut = llm.EstimateTokens(resp.Text)
	}
	if rerr := c.guard.Record(ctx, c.userID, actual); rerr != nil {
		c.guard.log.Error("Failed to record completion usage", "user_id", c.userID, "model", actual.Model, "error", rerr)
	}
	return resp, nil
}
