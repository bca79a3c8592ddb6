package llm

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/yungbote/pdfsum-backend/internal/pkg/httpx"
)

type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// Model overrides the provider default when set.
	Model string
}

type Completion struct {
	Text      string
	TokensIn  int
	TokensOut int
	Model     string
}

// Completer produces a single text completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

type Embeddings struct {
	// Vectors is aligned with the input texts.
	Vectors  [][]float32
	TokensIn int
	Model    string
}

// Embedder maps texts to fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) (Embeddings, error)
	Model() string
}

// PermanentError marks a provider failure that must not be retried
// (bad request, auth, content policy).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false
	}
	return httpx.IsRetryableError(err)
}

// EstimateTokens approximates a token count at four runes per token.
func EstimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(len([]rune(text))) / 4.0))
}
