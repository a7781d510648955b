package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrNoCredentials is returned when the handshake request carries no
// usable Authorization header.
var ErrNoCredentials = errors.New("missing bearer credentials")

// PrincipalResolver turns a bearer token into an authenticated
// identity. Implementations reject tokens whose subject no longer
// exists in the user store.
type PrincipalResolver interface {
	Resolve(ctx context.Context, token string) (Principal, error)
}

// PrincipalResolverFunc adapts a function to the PrincipalResolver
// interface.
type PrincipalResolverFunc func(ctx context.Context, token string) (Principal, error)

func (f PrincipalResolverFunc) Resolve(ctx context.Context, token string) (Principal, error) {
	return f(ctx, token)
}

// Gatekeeper authenticates connection handshakes. It runs before the
// WebSocket upgrade: a rejected handshake never allocates connection
// state and never touches the session directory.
type Gatekeeper struct {
	resolver PrincipalResolver
}

// NewGatekeeper creates a gatekeeper backed by the given resolver.
func NewGatekeeper(resolver PrincipalResolver) *Gatekeeper {
	return &Gatekeeper{resolver: resolver}
}

// Authenticate extracts the bearer token from the handshake request
// and resolves it to a principal. Absent or malformed credentials
// return ErrNoCredentials; resolver failures pass through.
func (g *Gatekeeper) Authenticate(r *http.Request) (Principal, error) {
	token := bearerToken(r)
	if token == "" {
		return Principal{}, ErrNoCredentials
	}
	return g.resolver.Resolve(r.Context(), token)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}
