package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/GTDGit/conversion_api/internal/models"
)

const tokenColumns = `id, token_type, token_value, app_id, expires_at, is_active, last_refresh_at, created_at, updated_at`

// TokenRepository provides access to the tokens table.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// GetActive returns the active rows, at most one per token type.
func (r *TokenRepository) GetActive(ctx context.Context) ([]models.Token, error) {
	q := `SELECT ` + tokenColumns + ` FROM tokens WHERE is_active = true ORDER BY token_type`
	tokens := []models.Token{}
	if err := r.db.SelectContext(ctx, &tokens, q); err != nil {
		return nil, err
	}
	return tokens, nil
}

// SwapPair deactivates the current access and refresh rows and inserts the
// new pair as active, all in one transaction. On any error nothing changes.
func (r *TokenRepository) SwapPair(ctx context.Context, pair models.TokenPair) ([]models.Token, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin token swap: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const deactivate = `
		UPDATE tokens SET is_active = false, updated_at = NOW()
		WHERE is_active = true AND token_type IN ('access_token', 'refresh_token')`
	if _, err := tx.ExecContext(ctx, deactivate); err != nil {
		return nil, fmt.Errorf("deactivate tokens: %w", err)
	}

	const insert = `
		INSERT INTO tokens (token_type, token_value, app_id, expires_at, is_active, last_refresh_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, true, $5, NOW(), NOW())
		RETURNING ` + tokenColumns

	rows := []struct {
		typ     models.TokenType
		value   string
		expires interface{}
	}{
		{models.TokenTypeAccess, pair.AccessToken, pair.AccessExpiresAt},
		{models.TokenTypeRefresh, pair.RefreshToken, pair.RefreshExpiresAt},
	}

	out := make([]models.Token, 0, len(rows))
	for _, row := range rows {
		var tok models.Token
		if err := tx.QueryRowxContext(ctx, insert, row.typ, row.value, pair.AppID, row.expires, pair.RefreshedAt).StructScan(&tok); err != nil {
			return nil, fmt.Errorf("insert %s: %w", row.typ, err)
		}
		out = append(out, tok)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit token swap: %w", err)
	}
	return out, nil
}

// History returns the most recent rows of tokenType, active or superseded.
func (r *TokenRepository) History(ctx context.Context, tokenType models.TokenType, limit int) ([]models.Token, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	q := `SELECT ` + tokenColumns + ` FROM tokens WHERE token_type = $1 ORDER BY id DESC LIMIT $2`
	tokens := []models.Token{}
	if err := r.db.SelectContext(ctx, &tokens, q, tokenType, limit); err != nil {
		return nil, err
	}
	return tokens, nil
}
