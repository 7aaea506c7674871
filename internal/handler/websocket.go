package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/mimirlabs/runner/internal/types"
	"github.com/mimirlabs/runner/internal/worker"
)

const (
	// readIdleTimeout must outlast the longest permitted run: the caller
	// is silent while waiting for its result.
	readIdleTimeout = 10 * time.Minute
	writeTimeout    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// wsConn binds one WebSocket connection to one execution session.
type wsConn struct {
	conn     *websocket.Conn
	ctrl     *worker.Controller
	eventBus chan types.Response
	logger   *logrus.Entry
	mutex    sync.Mutex
	closed   bool
}

// HandleWebSocket upgrades the connection and speaks the worker protocol:
// init/run/interrupt requests in, ready/success/error/interrupted
// responses out. Each connection owns exactly one session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		return
	}

	sess := h.newSession()
	h.metrics.SessionStarted()
	ctrl := worker.NewController(sess, h.sup, h.metrics)

	ws := &wsConn{
		conn:     conn,
		ctrl:     ctrl,
		eventBus: make(chan types.Response, 16),
		logger:   h.logger.WithField("component", "websocket").WithField("session_id", sess.ID()),
	}

	conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

	go ws.eventSender()

	// Eager initialization: the environment starts preparing itself
	// without waiting for an explicit init request. The caller still
	// receives the ready notification.
	if h.eagerInit {
		ctrl.Handle(r.Context(), types.Request{Type: types.RequestInit}, ws.send)
	}

	ws.handleMessages(r)

	// The connection is gone; the session it owned goes with it.
	sess.Terminate()
	h.metrics.SessionClosed()
}

// handleMessages reads protocol requests until the connection closes.
func (ws *wsConn) handleMessages(r *http.Request) {
	defer ws.close(websocket.CloseNormalClosure, "Connection closed")

	for {
		var req types.Request
		if err := ws.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ws.logger.WithError(err).Error("WebSocket read error")
			}
			return
		}

		ws.conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
		ws.ctrl.Handle(r.Context(), req, ws.send)
	}
}

// eventSender drains the event bus onto the wire.
func (ws *wsConn) eventSender() {
	for event := range ws.eventBus {
		ws.mutex.Lock()
		if ws.closed {
			ws.mutex.Unlock()
			return
		}

		ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.conn.WriteJSON(event); err != nil {
			ws.logger.WithError(err).Error("Failed to send WebSocket message")
			ws.mutex.Unlock()
			return
		}
		ws.mutex.Unlock()
	}
}

// send queues a response for the client without blocking the worker.
func (ws *wsConn) send(resp types.Response) {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if ws.closed {
		return
	}
	select {
	case ws.eventBus <- resp:
	default:
		ws.logger.Warn("Event bus full, dropping message")
	}
}

// close closes the WebSocket connection once.
func (ws *wsConn) close(code int, message string) {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if ws.closed {
		return
	}
	ws.closed = true
	close(ws.eventBus)

	ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, message),
		time.Now().Add(time.Second))
	ws.conn.Close()
}
