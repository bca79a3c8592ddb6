// Package llmtest provides deterministic in-memory providers for tests.
package llmtest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/yungbote/pdfsum-backend/internal/platform/llm"
)

const Dims = 16

// Embedder returns bag-of-words vectors: texts sharing words are similar.
type Embedder struct {
	mu    sync.Mutex
	calls int
	// Fail, when set, decides per call (1-indexed) whether to return an error.
	Fail func(call int, texts []string) error
}

func (e *Embedder) Model() string { return "test-embed" }

func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *Embedder) Embed(ctx context.Context, texts []string) (llm.Embeddings, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.Embeddings{}, err
	}
	if e.Fail != nil {
		if err := e.Fail(call, texts); err != nil {
			return llm.Embeddings{}, err
		}
	}
	out := llm.Embeddings{Model: e.Model(), Vectors: make([][]float32, len(texts))}
	for i, t := range texts {
		out.Vectors[i] = Vector(t)
		out.TokensIn += llm.EstimateTokens(t)
	}
	return out, nil
}

// Vector is the normalised bag-of-words vector used by Embedder.
func Vector(text string) []float32 {
	v := make([]float32, Dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,;:!?\"'()")))
		v[h.Sum32()%Dims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}

// Completer echoes a fixed reply, or whatever Reply returns.
type Completer struct {
	mu       sync.Mutex
	Requests []llm.CompletionRequest
	Reply    func(req llm.CompletionRequest) (string, error)
}

func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, req)
	c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return llm.Completion{}, err
	}
	text := "Generated summary."
	if c.Reply != nil {
		var err error
		text, err = c.Reply(req)
		if err != nil {
			return llm.Completion{}, err
		}
	}
	return llm.Completion{
		Text:      text,
		TokensIn:  llm.EstimateTokens(req.System) + llm.EstimateTokens(req.Prompt),
		TokensOut: llm.EstimateTokens(text),
		Model:     req.Model,
	}, nil
}

func (c *Completer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Requests)
}
