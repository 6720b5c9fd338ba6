package signal

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Stage/internal/domain"
)

// handleSignalRelay forwards an opaque negotiation payload between two
// members of the same room. The payload bytes pass through untouched.
func (ctl *SignalWSController) handleSignalRelay(sess *session, data []byte) {
	type signalPayload struct {
		Type    string          `json:"type"`
		RoomID  string          `json:"roomId" validate:"required,roomid"`
		From    string          `json:"from" validate:"required"`
		To      string          `json:"to" validate:"required"`
		Payload json.RawMessage `json:"payload" validate:"required"`
	}
	var p signalPayload
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

	if from != sess.clientID {
		ctl.sendError(sess.conn, "Signal does not match sender")
		return
	}
	if sess.roomID != roomID {
		ctl.sendError(sess.conn, "Not a member of this room")
		return
	}
	target, ok := ctl.Rooms.Lookup(roomID, to)
	if !ok {
		ctl.sendError(sess.conn, "Signal target not found")
		return
	}

	frame, err := json.Marshal(struct {
		Type    string          `json:"type"`
		From    domain.ClientID `json:"from"`
		Payload json.RawMessage `json:"payload"`
	}{
		Type:    "signal",
		From:    from,
		Payload: p.Payload,
	})
	if err != nil {
		return
	}
	if err := target.Conn.TrySend(frame); err != nil {
		ctl.sendError(sess.conn, "Signal target is unreachable")
	}
}

func (ctl *SignalWSController) handlePlayCommand(sess *session, data []byte) {
	type playPayload struct {
		Type    string `json:"type"`
		RoomID  string `json:"roomId" validate:"required,roomid"`
		From    string `json:"from" validate:"required"`
		Payload struct {
			Command   string `json:"command" validate:"required"`
			Timestamp *int64 `json:"timestamp"`
		} `json:"payload"`
	}
	var p playPayload
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

	if sess.roomID != roomID {
		ctl.sendError(sess.conn, "Not a member of this room")
		return
	}
	host, ok := ctl.Rooms.Host(roomID)
	if !ok || host.ClientID != sess.clientID || from != sess.clientID {
		ctl.sendError(sess.conn, "Only the host can send play commands")
		return
	}

	ts := time.Now().UnixMilli()
	if p.Payload.Timestamp != nil {
		ts = *p.Payload.Timestamp
	}

	ctl.broadcastFrame(roomID, from, struct {
		Type      string `json:"type"`
		Command   string `json:"command"`
		Timestamp int64  `json:"timestamp"`
	}{
		Type:      "play-command",
		Command:   p.Payload.Command,
		Timestamp: ts,
	})
}

func (ctl *SignalWSController) handlePing(sess *session) {
	ctl.sendJSON(sess.conn, struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	})
}
