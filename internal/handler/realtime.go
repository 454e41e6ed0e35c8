package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-live-seats/internal/hold"
	"github.com/iliyamo/cinema-live-seats/internal/metrics"
	"github.com/iliyamo/cinema-live-seats/internal/model"
	"github.com/iliyamo/cinema-live-seats/internal/notify"
	"github.com/iliyamo/cinema-live-seats/internal/repository"
	"github.com/iliyamo/cinema-live-seats/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	commandTimeout = 5 * time.Second
)

// Client commands.
const (
	cmdJoin    = "join"
	cmdLeave   = "leave"
	cmdBlock   = "block"
	cmdRelease = "release"
)

type clientMessage struct {
	Type   string `json:"type"`
	ShowID uint64 `json:"show_id"`
	Seat   string `json:"seat,omitempty"`
}

// serverMessage is every frame the server writes that is not a seat event:
// the session greeting, command acks ("ok") and "error" replies.
type serverMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Command   string `json:"command,omitempty"`
	ShowID    uint64 `json:"show_id,omitempty"`
	Seat      string `json:"seat,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RealtimeDeps wires a RealtimeHandler.  Metrics and Log are optional.
type RealtimeDeps struct {
	Bus                      SessionBus
	Holds                    HoldService
	Shows                    service.ShowReader
	ReleaseHoldsOnDisconnect bool
	CheckOrigin              func(r *http.Request) bool
	Metrics                  *metrics.Metrics
	Log                      *zap.Logger
}

// RealtimeHandler serves GET /v1/ws.  Each socket is one bus session: it
// joins shows, blocks and releases seats, and receives the seat events of
// every show it joined.
type RealtimeHandler struct {
	bus                 SessionBus
	holds               HoldService
	shows               service.ShowReader
	releaseOnDisconnect bool
	upgrader            websocket.Upgrader
	metrics             *metrics.Metrics
	log                 *zap.Logger
}

func NewRealtimeHandler(d RealtimeDeps) *RealtimeHandler {
	if d.Bus == nil || d.Holds == nil || d.Shows == nil {
		panic("nil dependency passed to NewRealtimeHandler")
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	checkOrigin := d.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &RealtimeHandler{
		bus:                 d.Bus,
		holds:               d.Holds,
		shows:               d.Shows,
		releaseOnDisconnect: d.ReleaseHoldsOnDisconnect,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		metrics: d.Metrics,
		log:     log,
	}
}

// wsConn serialises writes; gorilla allows one concurrent writer.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

func (c *wsConn) closeGoingAway() {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// Serve upgrades the request and runs the session until either side
// closes it.
func (h *RealtimeHandler) Serve(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already answered the request
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return nil
	}
	conn := &wsConn{ws: ws}
	sess := h.bus.NewSession(uuid.NewString())
	log := h.log.With(zap.String("session_id", sess.ID()))

	h.metrics.SessionOpened()
	log.Debug("realtime session opened", zap.String("remote_ip", c.RealIP()))

	if err := conn.writeJSON(serverMessage{Type: "session", SessionID: sess.ID()}); err != nil {
		h.metrics.SessionClosed()
		_ = ws.Close()
		return nil
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, sess, log)
	}()

	h.readPump(c.Request().Context(), conn, sess, log)

	h.bus.Disconnect(sess)
	<-writerDone
	_ = ws.Close()

	if h.releaseOnDisconnect {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		n := h.holds.ReleaseSession(ctx, sess.ID())
		cancel()
		if n > 0 {
			log.Debug("released holds of closed session", zap.Int("holds", n))
		}
	}
	h.metrics.SessionClosed()
	log.Debug("realtime session closed")
	return nil
}

// writePump forwards bus events and keeps the socket alive with pings.  It
// closes the socket when the session ends or a write fails, which also
// stops readPump.
func (h *RealtimeHandler) writePump(conn *wsConn, sess *notify.Session, log *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.ws.Close()
	}()
	for {
		select {
		case ev := <-sess.Events():
			if err := conn.writeJSON(ev); err != nil {
				log.Debug("realtime write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		case <-sess.Done():
			conn.closeGoingAway()
			return
		}
	}
}

func (h *RealtimeHandler) readPump(ctx context.Context, conn *wsConn, sess *notify.Session, log *zap.Logger) {
	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("realtime read failed", zap.Error(err))
			}
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(conn, serverMessage{Type: "error", Error: "malformed message"}, log)
			continue
		}
		h.reply(conn, h.handle(ctx, sess, msg, log), log)
	}
}

func (h *RealtimeHandler) reply(conn *wsConn, m serverMessage, log *zap.Logger) {
	if err := conn.writeJSON(m); err != nil {
		log.Debug("realtime reply failed", zap.Error(err))
	}
}

// handle runs one client command and returns the reply frame.
func (h *RealtimeHandler) handle(parent context.Context, sess *notify.Session, msg clientMessage, log *zap.Logger) serverMessage {
	ok := serverMessage{Type: "ok", Command: msg.Type, ShowID: msg.ShowID, Seat: msg.Seat}
	fail := func(reason string) serverMessage {
		return serverMessage{Type: "error", Command: msg.Type, ShowID: msg.ShowID, Seat: msg.Seat, Error: reason}
	}

	switch msg.Type {
	case cmdJoin, cmdLeave, cmdBlock, cmdRelease:
	default:
		return fail("unknown command")
	}
	if msg.ShowID == 0 {
		return fail("show_id is required")
	}

	ctx, cancel := context.WithTimeout(parent, commandTimeout)
	defer cancel()

	switch msg.Type {
	case cmdJoin:
		if _, err := h.shows.GetByID(ctx, msg.ShowID); err != nil {
			if errors.Is(err, repository.ErrShowNotFound) {
				return fail("unknown show")
			}
			log.Error("realtime join: load show failed", zap.Uint64("show_id", msg.ShowID), zap.Error(err))
			return fail("internal error")
		}
		if err := h.bus.Join(msg.ShowID, sess); err != nil {
			return fail("server shutting down")
		}
	case cmdLeave:
		h.bus.Leave(msg.ShowID, sess)
	case cmdBlock:
		if !model.ValidSeat(msg.Seat) {
			return fail("invalid seat")
		}
		if !sess.Joined(msg.ShowID) {
			return fail("join the show first")
		}
		if err := h.holds.Block(ctx, msg.ShowID, msg.Seat, sess.ID()); err != nil {
			return fail(holdFailure(err))
		}
	case cmdRelease:
		if !model.ValidSeat(msg.Seat) {
			return fail("invalid seat")
		}
		if err := h.holds.Release(ctx, msg.ShowID, msg.Seat, sess.ID()); err != nil {
			return fail(holdFailure(err))
		}
	}
	return ok
}

func holdFailure(err error) string {
	switch {
	case errors.Is(err, hold.ErrInvalidSeat):
		return "invalid seat"
	case errors.Is(err, hold.ErrClosed):
		return "server shutting down"
	}
	return "hold unavailable"
}
