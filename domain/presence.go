package domain

import (
	"time"

	"github.com/google/uuid"
)

// Presence is derived from the number of live sessions of a user.
// LastSeenAt is nil until the user disconnects for the first time.
type Presence struct {
	Online     bool
	LastSeenAt *time.Time
}

// SessionID identifies one live connection of a user.
type SessionID = uuid.UUID
