package app

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

type memberEntry struct {
	member *domain.Member
	conn   core.SignalConnection
}

// roomState is the per-room membership set. order keeps insertion
// order so roster snapshots come out stable.
type roomState struct {
	members map[domain.ClientID]*memberEntry
	order   []domain.ClientID
}

// Registry is the process-wide source of truth for rooms, members and
// roles. It never closes adapter-owned connections.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*roomState)}
}

// Register adds clientID to roomID, creating the room on first member.
// A re-register of an existing clientID replaces the member in place;
// the displaced connection (if any) is returned so the caller can close
// it. Fails with domain.ErrRoomHasHost when a different client already
// holds the host role.
func (r *Registry) Register(
	roomID domain.RoomID,
	clientID domain.ClientID,
	displayName string,
	role domain.Role,
	conn core.SignalConnection,
) (domain.Member, core.SignalConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = &roomState{members: make(map[domain.ClientID]*memberEntry)}
		r.rooms[roomID] = room
	}

	if role == domain.RoleHost {
		for id, e := range room.members {
			if e.member.Role == domain.RoleHost && id != clientID {
				return domain.Member{}, nil, domain.ErrRoomHasHost
			}
		}
	}

	name := r.resolveDisplayName(room, clientID, displayName)

	member, err := domain.NewMember(clientID, name, role)
	if err != nil {
		return domain.Member{}, nil, err
	}

	var displaced core.SignalConnection
	if prev, ok := room.members[clientID]; ok {
		if prev.conn != conn {
			displaced = prev.conn
		}
		prev.member = member
		prev.conn = conn
	} else {
		room.members[clientID] = &memberEntry{member: member, conn: conn}
		room.order = append(room.order, clientID)
	}

	log.Info().
		Str("module", "app.registry").
		Str("room", string(roomID)).
		Str("client", string(clientID)).
		Str("name", name).
		Str("role", string(member.Role)).
		Msg("member registered")
	return *member, displaced, nil
}

// resolveDisplayName fills an empty name from the fallback pool, then
// appends -2, -3, ... until the name is unique within the room.
// Uniqueness ignores the registering client itself so a re-register
// keeps its own name.
func (r *Registry) resolveDisplayName(room *roomState, self domain.ClientID, declared string) string {
	base := strings.TrimSpace(declared)
	if base == "" {
		base = domain.RandomDisplayName()
	}
	inUse := func(name string) bool {
		for id, e := range room.members {
			if id != self && e.member.DisplayName == name {
				return true
			}
		}
		return false
	}
	if !inUse(base) {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !inUse(candidate) {
			return candidate
		}
	}
}

func (r *Registry) HasRoom(roomID domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID]
	return ok
}

// Host returns a copy of the room's current host, if any.
func (r *Registry) Host(roomID domain.RoomID) (domain.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.Member{}, false
	}
	for _, id := range room.order {
		if e := room.members[id]; e.member.Role == domain.RoleHost {
			return *e.member, true
		}
	}
	return domain.Member{}, false
}

// Lookup returns roster meta plus the transport endpoint for one member.
func (r *Registry) Lookup(roomID domain.RoomID, clientID domain.ClientID) (core.MemberSnap, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return core.MemberSnap{}, false
	}
	e, ok := room.members[clientID]
	if !ok {
		return core.MemberSnap{}, false
	}
	return snapOf(e), true
}

// MembersOfRoom returns roster meta plus connections in insertion
// order, under a single lock so the roster matches the connection set.
func (r *Registry) MembersOfRoom(roomID domain.RoomID) []core.MemberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]core.MemberSnap, 0, len(room.order))
	for _, id := range room.order {
		out = append(out, snapOf(room.members[id]))
	}
	return out
}

// Snapshot returns the ordered roster without transport endpoints.
func (r *Registry) Snapshot(roomID domain.RoomID) []core.RosterEntry {
	snaps := r.MembersOfRoom(roomID)
	out := make([]core.RosterEntry, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.Entry)
	}
	return out
}

func (r *Registry) SetRole(roomID domain.RoomID, clientID domain.ClientID, role domain.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	e, ok := room.members[clientID]
	if !ok {
		return false
	}
	e.member.Role = role
	log.Info().
		Str("module", "app.registry").
		Str("room", string(roomID)).
		Str("client", string(clientID)).
		Str("role", string(role)).
		Msg("role changed")
	return true
}

// DemoteSpeakers resets every speaker in the room to idle and reports
// how many were demoted.
func (r *Registry) DemoteSpeakers(roomID domain.RoomID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return 0
	}
	n := 0
	for _, e := range room.members {
		if e.member.Role == domain.RoleSpeaker {
			e.member.Role = domain.RoleIdle
			n++
		}
	}
	return n
}

// Remove deletes the member and, when it was the last one, the room.
// Returns a copy of the removed member.
func (r *Registry) Remove(roomID domain.RoomID, clientID domain.ClientID) (domain.Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	if !ok {
		return domain.Member{}, false
	}
	e, ok := room.members[clientID]
	if !ok {
		return domain.Member{}, false
	}
	removed := *e.member
	delete(room.members, clientID)
	for i, id := range room.order {
		if id == clientID {
			room.order = append(room.order[:i], room.order[i+1:]...)
			break
		}
	}
	log.Info().
		Str("module", "app.registry").
		Str("room", string(roomID)).
		Str("client", string(clientID)).
		Msg("member removed")
	if len(room.members) == 0 {
		delete(r.rooms, roomID)
		log.Info().Str("module", "app.registry").Str("room", string(roomID)).Msg("room removed")
	}
	return removed, true
}

// Stats reports room and client counts for logging.
func (r *Registry) Stats() (rooms, clients int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms = len(r.rooms)
	for _, room := range r.rooms {
		clients += len(room.members)
	}
	return rooms, clients
}

func snapOf(e *memberEntry) core.MemberSnap {
	return core.MemberSnap{
		Entry: core.RosterEntry{
			ClientID:    e.member.ClientID,
			DisplayName: e.member.DisplayName,
			Role:        e.member.Role,
		},
		Conn: e.conn,
	}
}
