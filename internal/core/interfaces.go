package core

import "github.com/dkeye/Stage/internal/domain"

// Frame is a single encoded signaling message.
type Frame []byte

type SessionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// RosterEntry is a read-only member view for APIs (no transport fields).
type RosterEntry struct {
	ClientID    domain.ClientID `json:"clientId"`
	DisplayName string          `json:"displayName"`
	Role        domain.Role     `json:"role"`
}

// MemberSnap pairs roster meta with the member's transport endpoint.
// This is what the registry hands out for fan-out.
type MemberSnap struct {
	Entry RosterEntry
	Conn  SignalConnection
}
