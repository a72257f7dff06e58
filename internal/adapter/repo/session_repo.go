package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"clementine/internal/domain"
)

// SessionRepositoryPG is the single writer of session result media. Legacy
// rows are normalized on read and never rewritten.
type SessionRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository backed by PostgreSQL.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepositoryPG {
	return &SessionRepositoryPG{pool: pool}
}

// EnsureSession registers a session row if the callable entrypoint sees it
// for the first time.
func (r *SessionRepositoryPG) EnsureSession(ctx context.Context, sessionID, projectID string) error {
	query := `
INSERT INTO sessions (id, project_id)
VALUES ($1, $2)
ON CONFLICT (id) DO NOTHING;
`
	_, err := r.pool.Exec(ctx, query, sessionID, projectID)
	return err
}

// SetResultMedia writes the session's result media in the standard shape.
func (r *SessionRepositoryPG) SetResultMedia(ctx context.Context, sessionID string, ref domain.MediaRef) error {
	raw, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("encode result media: %w", err)
	}
	query := `
UPDATE sessions
SET result_media = $2,
    updated_at = NOW()
WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, sessionID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetResultMedia reads the session's result media, transparently normalizing
// legacy-shaped records.
func (r *SessionRepositoryPG) GetResultMedia(ctx context.Context, sessionID string) (*domain.MediaRef, error) {
	query := `
SELECT result_media
FROM sessions
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, sessionID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return domain.DecodeMediaRef(raw)
}

var _ domain.SessionRepository = (*SessionRepositoryPG)(nil)
