package reqid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Header is the HTTP header carrying the request id in both directions.
const Header = "X-Request-Id"

// key is the context key for the request ID.
type key struct{}

// NewContext returns a copy of parent with a new random request ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, string) {
	return WithID(parent, uuid.NewString())
}

// WithID stores id in a copy of parent.
func WithID(parent context.Context, id string) (context.Context, string) {
	return context.WithValue(parent, key{}, id), id
}

// FromRequest reuses the caller's request id when it is a well-formed UUID
// and generates a fresh one otherwise.
func FromRequest(r *http.Request) (context.Context, string) {
	if id, err := uuid.Parse(r.Header.Get(Header)); err == nil {
		return WithID(r.Context(), id.String())
	}
	return NewContext(r.Context())
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
