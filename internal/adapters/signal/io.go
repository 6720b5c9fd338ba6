package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stage/internal/core"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *wsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping error")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sess *session, c *wsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sess.sid)).Msg("readPump closing")
		ctl.onDisconnect(sess)
		c.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sess.sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sess.sid)).Msg("readPump read error")
				return
			}
			ctl.handleFrame(sess, data)
		}
	}
}

// handleFrame is the broker's per-frame path: admission, decode,
// dispatch. Each frame is fully processed before the next is read.
func (ctl *SignalWSController) handleFrame(sess *session, data []byte) {
	if !sess.bucket.Allow(time.Now()) {
		ctl.sendError(sess.conn, "Rate limit exceeded. Please slow down.")
		return
	}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.sendError(sess.conn, "Invalid JSON")
		return
	}

	switch env.Type {
	case "register":
		ctl.handleRegister(sess, data)
	case "ping":
		ctl.handlePing(sess)
	case "invite":
		if ctl.requireBound(sess) {
			ctl.handleInvite(sess, data)
		}
	case "invite-response":
		if ctl.requireBound(sess) {
			ctl.handleInviteResponse(sess, data)
		}
	case "invite-cancel":
		if ctl.requireBound(sess) {
			ctl.handleInviteCancel(sess, data)
		}
	case "signal":
		if ctl.requireBound(sess) {
			ctl.handleSignalRelay(sess, data)
		}
	case "play-command":
		if ctl.requireBound(sess) {
			ctl.handlePlayCommand(sess, data)
		}
	case "leave":
		if ctl.requireBound(sess) {
			ctl.handleLeave(sess, data)
		}
	default:
		// Unknown types are ignored for forward compatibility.
		log.Debug().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

// requireBound rejects room-scoped traffic from a connection that has
// not registered yet.
func (ctl *SignalWSController) requireBound(sess *session) bool {
	if sess.bound {
		return true
	}
	ctl.sendError(sess.conn, "Not registered")
	return false
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, msg string) {
	ctl.sendJSON(c, struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{
		Type:    "error",
		Message: msg,
	})
}
