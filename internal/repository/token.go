package repository

import (
	"context"
	"errors"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TokenRepository struct {
	pool *pgxpool.Pool
}

func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

func (r *TokenRepository) Create(ctx context.Context, t *domain.AccessToken) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO access_tokens (id, user_id, name, token_hash, created_at, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.UserID, t.Name, t.TokenHash, t.CreatedAt, t.RevokedAt,
	)
	return err
}

func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*domain.AccessToken, error) {
	var t domain.AccessToken
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, name, token_hash, created_at, revoked_at
		 FROM access_tokens WHERE token_hash = $1`,
		hash,
	).Scan(&t.ID, &t.UserID, &t.Name, &t.TokenHash, &t.CreatedAt, &t.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvalidToken
		}
		return nil, err
	}
	return &t, nil
}

func (r *TokenRepository) ListByUser(ctx context.Context, userID string) ([]*domain.AccessToken, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, name, token_hash, created_at, revoked_at
		 FROM access_tokens WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*domain.AccessToken
	for rows.Next() {
		var t domain.AccessToken
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.TokenHash, &t.CreatedAt, &t.RevokedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

func (r *TokenRepository) Revoke(ctx context.Context, id string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE access_tokens SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrInvalidToken
	}
	return nil
}
