package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/echonote/engine/internal/errs"
)

// UpsertOAuthToken writes or replaces a provider's token record. AccessToken
// and RefreshToken must already be vault-ciphertext by the time they reach
// here — the data model's invariant that tokens are never written in
// plaintext is enforced by the caller (the vault-aware credential service),
// not by this package, which has no vault dependency of its own.
func (s *Store) UpsertOAuthToken(ctx context.Context, t OAuthTokenRecord) error {
	extras, err := json.Marshal(t.Extras)
	if err != nil {
		return errs.Validationf("store: marshal extras for provider %q: %w", t.Provider, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, token_type, stored_at, extras)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at = excluded.expires_at,
			scope = excluded.scope,
			token_type = excluded.token_type,
			stored_at = excluded.stored_at,
			extras = excluded.extras`,
		t.Provider, t.AccessToken, nullableString(t.RefreshToken), formatTimePtr(t.ExpiresAt),
		nullableString(t.Scope), nullableString(t.TokenType), formatTime(t.StoredAt), string(extras),
	)
	if err != nil {
		return errs.Transientf("store: upsert oauth token for %q: %w", t.Provider, err)
	}
	return nil
}

// GetOAuthToken returns a provider's token record, or a NotFoundError.
func (s *Store) GetOAuthToken(ctx context.Context, provider string) (*OAuthTokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, access_token, refresh_token, expires_at, scope, token_type, stored_at, extras
		FROM oauth_tokens WHERE provider = ?`, provider)

	var t OAuthTokenRecord
	var refreshToken, scope, tokenType sql.NullString
	var expiresAt sql.NullString
	var storedAt string
	var extrasJSON string

	err := row.Scan(&t.Provider, &t.AccessToken, &refreshToken, &expiresAt, &scope, &tokenType, &storedAt, &extrasJSON)
	if err == sql.ErrNoRows {
		return nil, errs.NotFoundf("store: oauth token for %q not found", provider)
	}
	if err != nil {
		return nil, errs.Transientf("store: get oauth token for %q: %w", provider, err)
	}

	t.RefreshToken = refreshToken.String
	t.Scope = scope.String
	t.TokenType = tokenType.String
	t.ExpiresAt = parseTimePtr(expiresAt)
	t.StoredAt = parseTime(storedAt)
	if err := json.Unmarshal([]byte(extrasJSON), &t.Extras); err != nil {
		return nil, errs.Integrityf("store: decode extras for %q: %w", provider, err)
	}
	return &t, nil
}

// DeleteOAuthToken revokes a provider's stored credentials.
func (s *Store) DeleteOAuthToken(ctx context.Context, provider string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE provider = ?`, provider)
	if err != nil {
		return errs.Transientf("store: delete oauth token for %q: %w", provider, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.NotFoundf("store: oauth token for %q not found", provider)
	}
	return nil
}
