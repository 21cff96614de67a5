package models

import "time"

// ActivationToken is a single-use credential proving control of a
// registered email address. Tokens expire 24 hours after issuance and are
// deleted when consumed; expired leftovers are removed by a periodic purge.
type ActivationToken struct {
	ID        string    `db:"id" json:"id"`
	Token     string    `db:"token" json:"token"`
	UserID    string    `db:"user_id" json:"userId"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (t *ActivationToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
