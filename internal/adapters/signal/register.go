package signal

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

func (ctl *SignalWSController) handleRegister(sess *session, data []byte) {
	type registerPayload struct {
		Type        string `json:"type"`
		RoomID      string `json:"roomId" validate:"required,roomid"`
		ClientID    string `json:"clientId" validate:"required"`
		DisplayName string `json:"displayName" validate:"omitempty,max=36"`
		Role        string `json:"role" validate:"omitempty,oneof=idle host"`
	}
	var p registerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess.conn, "Invalid JSON")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(sess.conn, validationMessage(err))
		return
	}

	roomID := domain.RoomID(p.RoomID)
	clientID := domain.ClientID(p.ClientID)
	role := domain.Role(p.Role)
	if role == "" {
		role = domain.RoleIdle
	}

	// A bound session switching identity leaves its old room first.
	if sess.bound && (sess.roomID != roomID || sess.clientID != clientID) {
		ctl.removeMember(sess)
	}

	member, displaced, err := ctl.Rooms.Register(roomID, clientID, p.DisplayName, role, sess.conn)
	if err != nil {
		if errors.Is(err, domain.ErrRoomHasHost) {
			ctl.sendError(sess.conn, "Room already has a host")
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("register")
		ctl.sendError(sess.conn, "Registration failed")
		return
	}
	if displaced != nil {
		ctl.sendError(displaced, "Replaced by a new registration")
		displaced.Close()
	}

	sess.bound = true
	sess.roomID = roomID
	sess.clientID = clientID

	ctl.sendJSON(sess.conn, struct {
		Type        string             `json:"type"`
		ClientID    domain.ClientID    `json:"clientId"`
		DisplayName string             `json:"displayName"`
		Role        domain.Role        `json:"role"`
		RoomID      domain.RoomID      `json:"roomId"`
		Clients     []core.RosterEntry `json:"clients"`
	}{
		Type:        "registered",
		ClientID:    member.ClientID,
		DisplayName: member.DisplayName,
		Role:        member.Role,
		RoomID:      roomID,
		Clients:     ctl.Rooms.Snapshot(roomID),
	})
	ctl.broadcastRoster(roomID, clientID)
}

// handleLeave is explicit disconnect intent. The connection stays open
// and unbound; it may register again.
func (ctl *SignalWSController) handleLeave(sess *session, data []byte) {
	type leavePayload struct {
		Type   string `json:"type"`
		RoomID string `json:"roomId" validate:"required,roomid"`
		From   string `json:"from" validate:"required"`
	}
	var p leavePayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess.conn, "Invalid JSON")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(sess.conn, validationMessage(err))
		return
	}
	if sess.roomID != domain.RoomID(p.RoomID) || sess.clientID != domain.ClientID(p.From) {
		ctl.sendError(sess.conn, "Leave does not match sender")
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sess.sid)).Str("client", p.From).Msg("leave")
	ctl.removeMember(sess)
}

func (ctl *SignalWSController) onDisconnect(sess *session) {
	if !sess.bound {
		return
	}
	ctl.removeMember(sess)
}

// removeMember runs the disconnect protocol: drop the member, demote
// speakers on host loss, cascade pending invites, rebroadcast the
// roster. A session whose registration was already replaced by another
// connection only unbinds itself.
func (ctl *SignalWSController) removeMember(sess *session) {
	roomID, clientID := sess.roomID, sess.clientID
	sess.bound = false

	if snap, ok := ctl.Rooms.Lookup(roomID, clientID); !ok || snap.Conn != sess.conn {
		return
	}

	removed, ok := ctl.Rooms.Remove(roomID, clientID)
	if !ok {
		return
	}

	if removed.Role == domain.RoleHost {
		ctl.broadcastFrame(roomID, "", struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{
			Type:    "host-disconnected",
			Message: "Host has disconnected",
		})
		ctl.Rooms.DemoteSpeakers(roomID)
	}

	for _, inv := range ctl.Invites.RemoveByClient(roomID, clientID) {
		if inv.From == clientID {
			if target, ok := ctl.Rooms.Lookup(roomID, inv.To); ok {
				ctl.sendJSON(target.Conn, struct {
					Type     string `json:"type"`
					InviteID string `json:"inviteId"`
					Reason   string `json:"reason"`
				}{
					Type:     "invite-cancelled",
					InviteID: inv.ID,
					Reason:   "Host disconnected",
				})
			}
			continue
		}
		if host, ok := ctl.Rooms.Lookup(roomID, inv.From); ok {
			ctl.sendJSON(host.Conn, struct {
				Type     string          `json:"type"`
				InviteID string          `json:"inviteId"`
				To       domain.ClientID `json:"to"`
				Reason   string          `json:"reason"`
			}{
				Type:     "invite-expired",
				InviteID: inv.ID,
				To:       inv.To,
				Reason:   "Target disconnected",
			})
		}
	}

	if ctl.Rooms.HasRoom(roomID) {
		ctl.broadcastRoster(roomID, "")
	}
}
