package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// NewRateLimitedCompleter throttles calls to at most rps per second with the given burst.
// A non-positive rps disables throttling.
func NewRateLimitedCompleter(inner Completer, rps float64, burst int) Completer {
	if rps <= 0 {
		return inner
	}
	if burst <= 0 {
		burst = 1
	}
	return &limitedCompleter{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

type limitedCompleter struct {
	inner   Completer
	limiter *rate.Limiter
}

func (l *limitedCompleter) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Completion{}, err
	}
	return l.inner.Complete(ctx, req)
}

func NewRateLimitedEmbedder(inner Embedder, rps float64, burst int) Embedder {
	if rps <= 0 {
		return inner
	}
	if burst <= 0 {
		burst = 1
	}
	return &limitedEmbedder{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

type limitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

func (l *limitedEmbedder) Embed(ctx context.Context, texts []string) (Embeddings, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Embeddings{}, err
	}
	return l.inner.Embed(ctx, texts)
}

func (l *limitedEmbedder) Model() string { return l.inner.Model() }
