package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
)

// Ledger holds pending invites with deadlines. Each invite owns a
// cancellable timer; a periodic sweep is the fallback for lost timers.
// Removal is idempotent, which is what keeps terminal transitions
// (response, cancel, expiry, disconnect) from double-firing.
type Ledger struct {
	mu       sync.Mutex
	timeout  time.Duration
	sweep    time.Duration
	invites  map[string]*domain.Invite
	timers   map[string]*time.Timer
	onExpire func(*domain.Invite)

	done    chan struct{}
	stopped sync.Once
}

func NewLedger(timeout, sweep time.Duration) *Ledger {
	return &Ledger{
		timeout: timeout,
		sweep:   sweep,
		invites: make(map[string]*domain.Invite),
		timers:  make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
}

// Start installs the expiry callback and spawns the sweep loop.
func (l *Ledger) Start(onExpire func(*domain.Invite)) {
	l.mu.Lock()
	l.onExpire = onExpire
	l.mu.Unlock()
	go l.sweepLoop()
}

// Close stops the sweep loop and cancels every pending timer.
func (l *Ledger) Close() {
	l.stopped.Do(func() { close(l.done) })
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, t := range l.timers {
		t.Stop()
		delete(l.timers, id)
		delete(l.invites, id)
	}
}

// Create mints an invite for the from→to pair. An existing live invite
// for the same pair is replaced, so at most one is ever pending.
func (l *Ledger) Create(
	roomID domain.RoomID,
	from, to domain.ClientID,
	payload json.RawMessage,
) *domain.Invite {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, inv := range l.invites {
		if inv.RoomID == roomID && inv.From == from && inv.To == to {
			l.dropLocked(id)
		}
	}

	inv := &domain.Invite{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		From:      from,
		To:        to,
		Payload:   payload,
		ExpiresAt: time.Now().Add(l.timeout),
	}
	l.invites[inv.ID] = inv
	l.timers[inv.ID] = time.AfterFunc(l.timeout, func() { l.expire(inv.ID) })
	log.Info().
		Str("module", "app.ledger").
		Str("invite", inv.ID).
		Str("room", string(roomID)).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("invite created")
	return inv
}

func (l *Ledger) ByID(id string) (*domain.Invite, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.invites[id]
	return inv, ok
}

func (l *Ledger) ByPair(roomID domain.RoomID, from, to domain.ClientID) (*domain.Invite, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, inv := range l.invites {
		if inv.RoomID == roomID && inv.From == from && inv.To == to {
			return inv, true
		}
	}
	return nil, false
}

// Remove deletes the invite and cancels its timer. A second Remove for
// the same id is a no-op.
func (l *Ledger) Remove(id string) (*domain.Invite, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.invites[id]
	if !ok {
		return nil, false
	}
	l.dropLocked(id)
	return inv, true
}

// RemoveByClient drops every invite in the room where the client is
// either side, returning the removed records for notification fan-out.
func (l *Ledger) RemoveByClient(roomID domain.RoomID, clientID domain.ClientID) []*domain.Invite {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Invite
	for id, inv := range l.invites {
		if inv.RoomID == roomID && (inv.From == clientID || inv.To == clientID) {
			out = append(out, inv)
			l.dropLocked(id)
		}
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.invites)
}

func (l *Ledger) dropLocked(id string) {
	if t, ok := l.timers[id]; ok {
		t.Stop()
		delete(l.timers, id)
	}
	delete(l.invites, id)
}

// expire runs on the invite's own timer. An invite already removed by a
// terminal transition is silently skipped.
func (l *Ledger) expire(id string) {
	l.mu.Lock()
	inv, ok := l.invites[id]
	if !ok {
		l.mu.Unlock()
		return
	}
	l.dropLocked(id)
	cb := l.onExpire
	l.mu.Unlock()

	log.Info().Str("module", "app.ledger").Str("invite", id).Msg("invite expired")
	if cb != nil {
		cb(inv)
	}
}

func (l *Ledger) sweepLoop() {
	ticker := time.NewTicker(l.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweepExpired()
		}
	}
}

// sweepExpired removes records past their deadline even if the
// scheduled timer was lost.
func (l *Ledger) sweepExpired() {
	now := time.Now()
	l.mu.Lock()
	var stale []*domain.Invite
	for id, inv := range l.invites {
		if now.After(inv.ExpiresAt) {
			stale = append(stale, inv)
			l.dropLocked(id)
		}
	}
	cb := l.onExpire
	l.mu.Unlock()

	for _, inv := range stale {
		log.Warn().Str("module", "app.ledger").Str("invite", inv.ID).Msg("invite swept past deadline")
		if cb != nil {
			cb(inv)
		}
	}
}
