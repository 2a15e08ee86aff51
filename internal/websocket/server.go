// Package websocket adapts the streaming transcription protocol onto a
// gorilla/websocket connection. Each connection owns exactly one session:
// binary frames feed audio in, text frames carry JSON control and result
// messages.
package websocket

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/verbatim-audio/verbatim/internal/metrics"
	"github.com/verbatim-audio/verbatim/internal/protocol"
	"github.com/verbatim-audio/verbatim/internal/session"
	"github.com/verbatim-audio/verbatim/pkg/logger"
)

// Handler upgrades HTTP requests and bridges connections to the session
// manager.
type Handler struct {
	manager  *session.Manager
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewHandler creates a connection handler backed by the given manager.
func NewHandler(manager *session.Manager, m *metrics.Metrics, log *logger.Logger) *Handler {
	return &Handler{
		manager: manager,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins
			},
		},
		logger: log.Named("web-socket"),
	}
}

// client ties one connection to one session. The write pump is the only
// goroutine that touches the connection for writes; the read loop hands
// it frames over the out channel.
type client struct {
	conn      *websocket.Conn
	sess      *session.Session
	handler   *Handler
	out       chan any
	closeChan chan struct{}
}

// HandleConnection upgrades the request, admits a session and runs the
// read loop until the client disconnects or the session ends.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("Handling new WebSocket connection request",
		logger.String("remote_addr", r.RemoteAddr))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection",
			logger.Error(err),
			logger.String("remote_addr", r.RemoteAddr))
		return
	}

	sess, err := h.manager.CreateSession()
	if err != nil {
		// Admission failed. Tell the client why, then close; there is
		// no session to stream from.
		if errors.Is(err, session.ErrCapacityExceeded) {
			h.writeFrame(conn, protocol.NewError(protocol.ErrCapacityExceeded, err.Error()))
		} else {
			h.logger.Error("Failed to create session", logger.Error(err))
		}
		conn.Close()
		return
	}

	h.logger.Info("Session attached to connection",
		logger.String("session_id", sess.ID),
		logger.String("remote_addr", r.RemoteAddr))

	c := &client{
		conn:      conn,
		sess:      sess,
		handler:   h,
		out:       make(chan any, 16),
		closeChan: make(chan struct{}),
	}

	go c.writePump()
	c.readLoop()

	h.manager.CloseSession(sess.ID)
	conn.Close()
}

// readLoop consumes frames from the connection. Binary frames are audio,
// text frames are parsed as control messages. Protocol errors are
// reported back without dropping the connection.
func (c *client) readLoop() {
	log := c.handler.logger
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error("WebSocket read error",
					logger.Error(err),
					logger.String("session_id", c.sess.ID))
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.handler.metrics.FramesIn.WithLabelValues("binary").Inc()
			if err := c.handler.manager.ProcessAudio(c.sess.ID, data); err != nil {
				if errors.Is(err, session.ErrSessionNotFound) {
					c.send(protocol.NewError(protocol.ErrSessionNotFound, err.Error()))
					return
				}
				log.Error("Failed to process audio",
					logger.Error(err),
					logger.String("session_id", c.sess.ID))
			}

		case websocket.TextMessage:
			c.handler.metrics.FramesIn.WithLabelValues("text").Inc()
			if !c.handleControl(data) {
				return
			}
		}
	}
}

// handleControl dispatches one parsed control message. It returns false
// when the connection should be torn down.
func (c *client) handleControl(data []byte) bool {
	log := c.handler.logger

	msg, err := protocol.ParseControl(data)
	if err != nil {
		log.Warn("Malformed control message",
			logger.Error(err),
			logger.String("session_id", c.sess.ID))
		c.send(protocol.NewError(protocol.ErrMalformedControlMessage, err.Error()))
		return true
	}

	switch {
	case msg.Ping:
		if err := c.handler.manager.Ping(c.sess.ID); err != nil {
			c.send(protocol.NewError(protocol.ErrSessionNotFound, err.Error()))
			return false
		}

	case msg.Config != nil:
		if err := c.handler.manager.Configure(c.sess.ID, msg.Config); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				c.send(protocol.NewError(protocol.ErrSessionNotFound, err.Error()))
				return false
			}
			if errors.Is(err, session.ErrModelLoadFailed) {
				c.send(protocol.NewError(protocol.ErrModelLoadFailed, err.Error()))
				return true
			}
			log.Error("Failed to configure session",
				logger.Error(err),
				logger.String("session_id", c.sess.ID))
			c.send(protocol.NewError(protocol.ErrModelLoadFailed, err.Error()))
		}
	}
	return true
}

// send queues a frame produced by the read loop itself (errors, pongs).
func (c *client) send(frame any) {
	select {
	case c.out <- frame:
	case <-c.closeChan:
	}
}

// writePump serializes frames to the connection: session events in the
// order the pipeline emitted them, interleaved with read-loop replies.
// It exits when the session's event stream closes.
func (c *client) writePump() {
	defer close(c.closeChan)

	events := c.sess.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				c.conn.Close()
				return
			}
			if !c.writeOut(ev.Frame()) {
				return
			}

		case frame := <-c.out:
			if !c.writeOut(frame) {
				return
			}
		}
	}
}

func (c *client) writeOut(frame any) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		c.handler.logger.Error("Failed to marshal frame",
			logger.Error(err),
			logger.String("session_id", c.sess.ID))
		return true
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return false
	}
	c.handler.metrics.FramesOut.WithLabelValues(frameKind(frame)).Inc()
	return true
}

// writeFrame writes a single frame on a connection that has no client
// yet, for admission failures.
func (h *Handler) writeFrame(conn *websocket.Conn, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err == nil {
		h.metrics.FramesOut.WithLabelValues(frameKind(frame)).Inc()
	}
}

func frameKind(frame any) string {
	switch frame.(type) {
	case protocol.StatusFrame:
		return protocol.TypeStatus
	case protocol.PartialFrame:
		return protocol.TypePartial
	case protocol.FinalFrame:
		return protocol.TypeFinal
	case protocol.ErrorFrame:
		return protocol.TypeError
	case protocol.PongFrame:
		return protocol.TypePong
	default:
		return "unknown"
	}
}
