package models

import "time"

// TokenType distinguishes the two halves of the OAuth-style credential pair.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access_token"
	TokenTypeRefresh TokenType = "refresh_token"
)

// Token is one row of the tokens table. Only one row per type is active;
// superseded rows stay for audit.
type Token struct {
	ID            int64      `db:"id" json:"id"`
	TokenType     TokenType  `db:"token_type" json:"token_type"`
	TokenValue    string     `db:"token_value" json:"-"`
	AppID         string     `db:"app_id" json:"app_id"`
	ExpiresAt     *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	IsActive      bool       `db:"is_active" json:"is_active"`
	LastRefreshAt *time.Time `db:"last_refresh_at" json:"last_refresh_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// ExpiryAt returns the token's expiry. Rows without expires_at are
// computed from last_refresh_at (or created_at) plus ttl; a zero ttl means
// the expiry is unknown and the zero time is returned.
func (t *Token) ExpiryAt(ttl time.Duration) time.Time {
	if t.ExpiresAt != nil {
		return *t.ExpiresAt
	}
	if ttl <= 0 {
		return time.Time{}
	}
	issued := t.CreatedAt
	if t.LastRefreshAt != nil {
		issued = *t.LastRefreshAt
	}
	return issued.Add(ttl)
}

// TokenPair is a new access/refresh pair to activate in one swap.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AppID        string
	// AccessExpiresAt and RefreshExpiresAt are nil when unknown.
	AccessExpiresAt  *time.Time
	RefreshExpiresAt *time.Time
	RefreshedAt      time.Time
}
