package server

import "context"

// Identity is the result of a successful token verification.
type Identity struct {
	UserID string
}

// Authenticator verifies a client-supplied token and resolves an identity.
// Token verification is an external concern; deployments plug in their own
// implementation (OAuth introspection, JWT validation, a session service).
type Authenticator interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// StaticAuthenticator resolves identities from a fixed token table. It backs
// development and test setups configured via static_tokens.
type StaticAuthenticator struct {
	tokens map[string]string // token -> user id
}

func NewStaticAuthenticator(tokens map[string]string) *StaticAuthenticator {
	return &StaticAuthenticator{tokens: tokens}
}

func (a *StaticAuthenticator) Verify(_ context.Context, token string) (Identity, error) {
	userID, ok := a.tokens[token]
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: userID}, nil
}
