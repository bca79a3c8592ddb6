package llm

import (
	"context"
	"strings"
)

// Router sends a completion to the provider registered for the longest
// matching model prefix, falling back to Default.
type Router struct {
	Default  Completer
	byPrefix map[string]Completer
}

func NewRouter(def Completer) *Router {
	return &Router{Default: def, byPrefix: map[string]Completer{}}
}

func (r *Router) Route(prefix string, c Completer) *Router {
	if c != nil && prefix != "" {
		r.byPrefix[strings.ToLower(prefix)] = c
	}
	return r
}

func (r *Router) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	return r.pick(req.Model).Complete(ctx, req)
}

func (r *Router) pick(model string) Completer {
	model = strings.ToLower(strings.TrimSpace(model))
	var best Completer
	bestLen := -1
	for prefix, c := range r.byPrefix {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = c, len(prefix)
		}
	}
	if best != nil {
		return best
	}
	return r.Default
}
