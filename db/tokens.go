package db

import (
	"context"
	"database/sql"
	"time"
)

// UpsertOAuthToken stores or updates an OAuth token for a provider (e.g. twitch).
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, provider, access, refresh string, expiry time.Time, scope string) error {
	_, err := dbx.ExecContext(ctx,
		`INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, updated_at)
		 VALUES($1,$2,$3,$4,$5,NOW())
		 ON CONFLICT(provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   scope=EXCLUDED.scope,
		   updated_at=NOW()`,
		provider, access, refresh, expiry, scope)
	return err
}

// GetOAuthToken retrieves a stored token row; returns zero values if not found.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	row := dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope FROM oauth_tokens WHERE provider=$1`, provider)
	err = row.Scan(&access, &refresh, &expiry, &scope)
	if err == sql.ErrNoRows {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	return access, refresh, expiry, scope, nil
}
