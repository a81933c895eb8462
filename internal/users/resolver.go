package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/typosquad/typerace/internal/models"
)

// ErrInvalidToken is returned when a connection credential resolves to no
// active user.
var ErrInvalidToken = errors.New("users: invalid or expired token")

// TokenResolver maps a connection's session token to a verified identity.
// Issuing tokens is the auth service's job; this only looks them up.
type TokenResolver struct {
	pool *pgxpool.Pool
}

// NewTokenResolver creates a token resolver on the shared pool.
func NewTokenResolver(pool *pgxpool.Pool) *TokenResolver {
	return &TokenResolver{pool: pool}
}

// Resolve returns the identity behind a session token.
func (r *TokenResolver) Resolve(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	var identity models.Identity
	err := r.pool.QueryRow(ctx, `
		SELECT u.id, u.nickname, u.is_guest
		FROM user_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token = $1 AND s.expires_at > now()`, token,
	).Scan(&identity.UserID, &identity.Nickname, &identity.IsGuest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}
	return &identity, nil
}
