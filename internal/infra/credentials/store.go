// Package credentials persists upstream API keys in the database so a
// deployment can be rekeyed without restarting workers. The environment
// variable, when set, always wins; the store is the fallback.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"clementine/internal/infra"
	"clementine/internal/sqlinline"
)

const providerGemini = "gemini"

// Store reads and writes integration tokens through the shared SQL runner.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// GeminiAPIKey returns the stored key, or empty when none has been set.
func (s *Store) GeminiAPIKey(ctx context.Context) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, providerGemini)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetGeminiAPIKey upserts the stored key.
func (s *Store) SetGeminiAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("gemini api key is required")
	}
	props, err := json.Marshal(map[string]any{})
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, providerGemini, key, props)
	return err
}
