package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sorinflow/divar-crawler/internal/entity"
)

// SessionRepoImpl provides the SessionRepository implementation using PostgreSQL.
type SessionRepoImpl struct {
	db *pgxpool.Pool
}

// NewSessionRepo creates a new instance of SessionRepoImpl.
func NewSessionRepo(db *pgxpool.Pool) *SessionRepoImpl {
	return &SessionRepoImpl{db: db}
}

func (r *SessionRepoImpl) Save(ctx context.Context, b *entity.SessionBundle) error {
	cookiesJSON, err := json.Marshal(b.Cookies)
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	query := `
		INSERT INTO session_bundles (
			phone_number, cookies, token, is_valid,
			expires_at, invalid_reason, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id;
	`
	err = r.db.QueryRow(ctx, query,
		b.PhoneNumber, cookiesJSON, b.Token, b.IsValid,
		b.ExpiresAt, b.InvalidReason, b.CreatedAt, b.UpdatedAt,
	).Scan(&b.ID)
	if err != nil {
		return fmt.Errorf("failed to save session for %s: %w", b.PhoneNumber, err)
	}
	return nil
}

func (r *SessionRepoImpl) Update(ctx context.Context, b *entity.SessionBundle) error {
	cookiesJSON, err := json.Marshal(b.Cookies)
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	query := `
		UPDATE session_bundles SET
			cookies = $2,
			token = $3,
			is_valid = $4,
			expires_at = $5,
			invalid_reason = $6,
			updated_at = $7
		WHERE id = $1;
	`
	_, err = r.db.Exec(ctx, query,
		b.ID, cookiesJSON, b.Token, b.IsValid,
		b.ExpiresAt, b.InvalidReason, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session %d: %w", b.ID, err)
	}
	return nil
}

// LoadValid returns every bundle still marked valid, newest first.
func (r *SessionRepoImpl) LoadValid(ctx context.Context) ([]*entity.SessionBundle, error) {
	query := `
		SELECT id, phone_number, cookies, token, is_valid,
			expires_at, invalid_reason, created_at, updated_at
		FROM session_bundles
		WHERE is_valid = TRUE
		ORDER BY created_at DESC;
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	defer rows.Close()

	var bundles []*entity.SessionBundle
	for rows.Next() {
		var b entity.SessionBundle
		var cookiesJSON []byte
		err := rows.Scan(
			&b.ID, &b.PhoneNumber, &cookiesJSON, &b.Token, &b.IsValid,
			&b.ExpiresAt, &b.InvalidReason, &b.CreatedAt, &b.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(cookiesJSON, &b.Cookies); err != nil {
			return nil, fmt.Errorf("failed to decode cookies for session %d: %w", b.ID, err)
		}
		bundles = append(bundles, &b)
	}
	return bundles, rows.Err()
}
