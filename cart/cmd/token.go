package cmd

import (
	"time"

	"github.com/google/uuid"

	"github.com/Alturino/cartsync/cart/internal/session"
)

// IssueToken exposes session.IssueToken to the root command, which cannot
// import cart/internal packages directly.
func IssueToken(secret []byte, userID uuid.UUID, now time.Time, ttl time.Duration) (string, error) {
	return session.IssueToken(secret, userID, now, ttl)
}
