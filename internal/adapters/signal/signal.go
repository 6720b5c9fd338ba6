package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/Stage/internal/app"
	"github.com/dkeye/Stage/internal/config"
	"github.com/dkeye/Stage/internal/core"
	"github.com/dkeye/Stage/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// SignalWSController accepts broker connections, binds each to a
// session and drives the read loop. It is the only writer of member
// roles and display names.
type SignalWSController struct {
	cfg     *config.Config
	Rooms   *app.Registry
	Invites *app.Ledger

	ctx    context.Context
	cancel context.CancelFunc
	wg     *conc.WaitGroup
}

func NewSignalWSController(
	ctx context.Context,
	cfg *config.Config,
	rooms *app.Registry,
	invites *app.Ledger,
) *SignalWSController {
	ctx, cancel := context.WithCancel(ctx)
	return &SignalWSController{
		cfg:     cfg,
		Rooms:   rooms,
		Invites: invites,
		ctx:     ctx,
		cancel:  cancel,
		wg:      conc.NewWaitGroup(),
	}
}

// Shutdown closes every live connection and waits for their pumps.
func (ctl *SignalWSController) Shutdown() {
	ctl.cancel()
	ctl.wg.Wait()
}

// session is the per-connection state. Only the connection's own read
// loop touches it, the rate bucket included.
type session struct {
	sid    core.SessionID
	conn   core.SignalConnection
	bucket rateBucket

	bound    bool
	roomID   domain.RoomID
	clientID domain.ClientID
}

func (ctl *SignalWSController) newSession(sid core.SessionID, conn core.SignalConnection) *session {
	return &session{
		sid:    sid,
		conn:   conn,
		bucket: newRateBucket(ctl.cfg.RateLimitWindow, ctl.cfg.RateLimitMax),
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.cfg.SendBuffer),
	}
	sess := ctl.newSession(sid, conn)

	ctx, cancel := context.WithCancel(ctl.ctx)
	// Unblocks the read loop when the supervisor shuts down.
	stop := context.AfterFunc(ctx, conn.Close)

	ctl.wg.Go(func() { ctl.writePump(ctx, conn) })
	ctl.wg.Go(func() {
		defer stop()
		defer cancel()
		ctl.readPump(ctx, sess, conn)
	})
}

// broadcastRoster fans the current roster out to the whole room. The
// roster and the connection set come from one registry snapshot, so
// every recipient sees the same list.
func (ctl *SignalWSController) broadcastRoster(roomID domain.RoomID, except domain.ClientID) {
	snaps := ctl.Rooms.MembersOfRoom(roomID)
	roster := make([]core.RosterEntry, 0, len(snaps))
	for _, s := range snaps {
		roster = append(roster, s.Entry)
	}
	frame, err := json.Marshal(struct {
		Type    string             `json:"type"`
		Clients []core.RosterEntry `json:"clients"`
	}{
		Type:    "clients-updated",
		Clients: roster,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("roster marshal")
		return
	}
	for _, s := range snaps {
		if s.Entry.ClientID == except {
			continue
		}
		_ = s.Conn.TrySend(frame)
	}
}

func (ctl *SignalWSController) broadcastFrame(roomID domain.RoomID, except domain.ClientID, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	for _, s := range ctl.Rooms.MembersOfRoom(roomID) {
		if s.Entry.ClientID == except {
			continue
		}
		_ = s.Conn.TrySend(b)
	}
}
