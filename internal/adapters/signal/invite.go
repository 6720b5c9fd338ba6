package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/domain"
)

// defaultInvitePayload is relayed when the host omits one.
var defaultInvitePayload = json.RawMessage(`{"role":"speaker","note":"Become my speaker?"}`)

func (ctl *SignalWSController) handleInvite(sess *session, data []byte) {
	type invitePayload struct {
		Type    string          `json:"type"`
		RoomID  string          `json:"roomId" validate:"required,roomid"`
		From    string          `json:"from" validate:"required"`
		To      string          `json:"to" validate:"required"`
		Payload json.RawMessage `json:"payload"`
	}
	var p invitePayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess.conn, "Invalid JSON")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(sess.conn, validationMessage(err))
		return
	}

	roomID := domain.RoomID(p.RoomID)
	from := domain.ClientID(p.From)
	to := domain.ClientID(p.To)

	if sess.roomID != roomID {
		ctl.sendError(sess.conn, "Not a member of this room")
		return
	}
	host, ok := ctl.Rooms.Host(roomID)
	if !ok || host.ClientID != sess.clientID || from != sess.clientID {
		ctl.sendError(sess.conn, "Only the host can send invites")
		return
	}
	target, ok := ctl.Rooms.Lookup(roomID, to)
	if !ok {
		ctl.sendError(sess.conn, "Invite target not found")
		return
	}

	payload := p.Payload
	if len(payload) == 0 || string(payload) == "null" {
		payload = defaultInvitePayload
	}

	inv := ctl.Invites.Create(roomID, from, to, payload)

	frame, err := json.Marshal(struct {
		Type            string          `json:"type"`
		InviteID        string          `json:"inviteId"`
		From            domain.ClientID `json:"from"`
		FromDisplayName string          `json:"fromDisplayName"`
		Payload         json.RawMessage `json:"payload"`
	}{
		Type:            "invite",
		InviteID:        inv.ID,
		From:            from,
		FromDisplayName: host.DisplayName,
		Payload:         payload,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("invite marshal")
		ctl.Invites.Remove(inv.ID)
		return
	}
	if err := target.Conn.TrySend(frame); err != nil {
		ctl.Invites.Remove(inv.ID)
		ctl.sendError(sess.conn, "Invite target is unreachable")
		return
	}

	ctl.sendJSON(sess.conn, struct {
		Type          string          `json:"type"`
		InviteID      string          `json:"inviteId"`
		To            domain.ClientID `json:"to"`
		ToDisplayName string          `json:"toDisplayName"`
	}{
		Type:          "invite-sent",
		InviteID:      inv.ID,
		To:            to,
		ToDisplayName: target.Entry.DisplayName,
	})
}

func (ctl *SignalWSController) handleInviteResponse(sess *session, data []byte) {
	type responsePayload struct {
		Type     string `json:"type"`
		RoomID   string `json:"roomId" validate:"required,roomid"`
		From     string `json:"from" validate:"required"`
		To       string `json:"to" validate:"required"`
		Accepted *bool  `json:"accepted" validate:"required"`
		InviteID string `json:"inviteId"`
	}
	var p responsePayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess.conn, "Invalid JSON")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(sess.conn, validationMessage(err))
		return
	}

	roomID := domain.RoomID(p.RoomID)
	responder := domain.ClientID(p.From)
	hostID := domain.ClientID(p.To)

	if responder != sess.clientID || sess.roomID != roomID {
		ctl.sendError(sess.conn, "Invite response does not match sender")
		return
	}

	// The live invite runs host→responder; the response runs the other way.
	inv, ok := ctl.Invites.ByPair(roomID, hostID, responder)
	if !ok {
		ctl.sendError(sess.conn, "No matching invite")
		return
	}
	if _, ok := ctl.Invites.Remove(inv.ID); !ok {
		// Lost the race against expiry or cancel; the terminal event
		// already went out.
		return
	}

	accepted := *p.Accepted
	if accepted {
		ctl.Rooms.SetRole(roomID, responder, domain.RoleSpeaker)
	}

	inviteID := p.InviteID
	if inviteID == "" {
		inviteID = inv.ID
	}

	respName := ""
	if snap, ok := ctl.Rooms.Lookup(roomID, responder); ok {
		respName = snap.Entry.DisplayName
	}

	if host, ok := ctl.Rooms.Lookup(roomID, hostID); ok {
		ctl.sendJSON(host.Conn, struct {
			Type            string          `json:"type"`
			InviteID        string          `json:"inviteId"`
			From            domain.ClientID `json:"from"`
			FromDisplayName string          `json:"fromDisplayName"`
			Accepted        bool            `json:"accepted"`
		}{
			Type:            "invite-response",
			InviteID:        inviteID,
			From:            responder,
			FromDisplayName: respName,
			Accepted:        accepted,
		})
	}

	if accepted {
		ctl.broadcastRoster(roomID, "")
	}
}

func (ctl *SignalWSController) handleInviteCancel(sess *session, data []byte) {
	type cancelPayload struct {
		Type     string `json:"type"`
		InviteID string `json:"inviteId" validate:"required"`
		From     string `json:"from" validate:"required"`
	}
	var p cancelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(sess.conn, "Invalid JSON")
		return
	}
	if err := validate.Struct(p); err != nil {
		ctl.sendError(sess.conn, validationMessage(err))
		return
	}

	inv, ok := ctl.Invites.ByID(p.InviteID)
	if !ok {
		// Already terminal; cancelling again is a no-op.
		return
	}
	from := domain.ClientID(p.From)
	if inv.From != from || sess.clientID != from || sess.roomID != inv.RoomID {
		ctl.sendError(sess.conn, "Only the invite sender can cancel it")
		return
	}
	if _, ok := ctl.Invites.Remove(inv.ID); !ok {
		return
	}

	if target, ok := ctl.Rooms.Lookup(inv.RoomID, inv.To); ok {
		ctl.sendJSON(target.Conn, struct {
			Type     string `json:"type"`
			InviteID string `json:"inviteId"`
		}{
			Type:     "invite-cancelled",
			InviteID: inv.ID,
		})
	}
}

// OnInviteExpired notifies both sides of a deadline hit. Either may be
// gone already; delivery is best-effort.
func (ctl *SignalWSController) OnInviteExpired(inv *domain.Invite) {
	if host, ok := ctl.Rooms.Lookup(inv.RoomID, inv.From); ok {
		ctl.sendJSON(host.Conn, struct {
			Type     string          `json:"type"`
			InviteID string          `json:"inviteId"`
			To       domain.ClientID `json:"to"`
		}{
			Type:     "invite-expired",
			InviteID: inv.ID,
			To:       inv.To,
		})
	}
	if target, ok := ctl.Rooms.Lookup(inv.RoomID, inv.To); ok {
		ctl.sendJSON(target.Conn, struct {
			Type     string          `json:"type"`
			InviteID string          `json:"inviteId"`
			From     domain.ClientID `json:"from"`
		}{
			Type:     "invite-expired",
			InviteID: inv.ID,
			From:     inv.From,
		})
	}
}
