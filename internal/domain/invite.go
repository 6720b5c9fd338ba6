package domain

import (
	"encoding/json"
	"time"
)

// Invite is a time-bounded offer from a room's host promoting a member
// to speaker. Payload is relayed verbatim and never inspected.
type Invite struct {
	ID        string
	RoomID    RoomID
	From      ClientID
	To        ClientID
	Payload   json.RawMessage
	ExpiresAt time.Time
}
