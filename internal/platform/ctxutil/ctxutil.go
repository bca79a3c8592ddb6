package ctxutil

import (
	"context"

	"github.com/google/uuid"
)

type requestKey struct{}

// Request is the per-request data the HTTP middleware resolves: trace ids
// first, the caller once authentication passes.
type Request struct {
	TraceID   string
	RequestID string
	UserID    uuid.UUID
}

func With(ctx context.Context, r *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

func From(ctx context.Context) *Request {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(requestKey{}).(*Request)
	return r
}

// WithUser returns ctx carrying a copy of its Request with the caller set.
func WithUser(ctx context.Context, userID uuid.UUID) context.Context {
	next := Request{UserID: userID}
	if cur := From(ctx); cur != nil {
		next = *cur
		next.UserID = userID
	}
	return With(ctx, &next)
}

// UserID is uuid.Nil when the request was not authenticated.
func UserID(ctx context.Context) uuid.UUID {
	if r := From(ctx); r != nil {
		return r.UserID
	}
	return uuid.Nil
}
