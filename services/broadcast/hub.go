// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broadcast

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

const (
	// hubSendBuffer is the per-connection outbound queue depth.
	hubSendBuffer = 64

	// hubWriteTimeout bounds a single websocket write.
	hubWriteTimeout = 10 * time.Second

	// hubPublishRate and hubPublishBurst bound inbound publishes per
	// connection. A client emitting more than this is misbehaving;
	// excess messages are dropped.
	hubPublishRate  = rate.Limit(20)
	hubPublishBurst = 40
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// subscribeRequest is the first frame a client sends after connecting.
type subscribeRequest struct {
	UserID    string   `json:"userId"`
	GardenIDs []string `json:"gardenIds"`
}

// sessionAck is sent back once the subscription is registered.
type sessionAck struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

// hubConn is one subscribed websocket connection.
type hubConn struct {
	sessionID string
	userID    string
	gardens   map[string]struct{}
	send      chan datatypes.BroadcastMessage
	limiter   *rate.Limiter
}

func (c *hubConn) wants(msg datatypes.BroadcastMessage) bool {
	if _, ok := c.gardens[msg.GardenID]; ok {
		return true
	}
	if msg.Kind == datatypes.BroadcastMembership && msg.Metadata["userId"] == c.userID {
		return true
	}
	return false
}

// Hub fans change notifications out to subscribed websocket clients,
// one logical channel per garden.
//
// The hub does not suppress echoes: a message published by one
// connection is delivered to every matching connection, including the
// origin. Self-echo suppression is the consumer's job (it knows its own
// actor id; the hub does not).
//
// Thread Safety: safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*hubConn
	logger *slog.Logger
}

// NewHub creates an empty hub. If logger is nil, slog.Default() is
// used.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[string]*hubConn),
		logger: logger,
	}
}

// Publish implements Publisher: the daemon's own components publish
// into the hub exactly like a remote client would.
func (h *Hub) Publish(_ context.Context, msg datatypes.BroadcastMessage) error {
	h.fanOut(msg)
	return nil
}

// Subscribe implements Subscriber by registering a virtual local
// session: the handler receives exactly what a websocket client with
// the same subscription would, echoes included. Used by the daemon's
// own progress service so in-process and remote consumers share one
// code path.
func (h *Hub) Subscribe(ctx context.Context, userID string, gardenIDs []string, handler Handler) (func(), error) {
	conn := &hubConn{
		sessionID: uuid.New().String(),
		userID:    userID,
		gardens:   make(map[string]struct{}, len(gardenIDs)),
		send:      make(chan datatypes.BroadcastMessage, hubSendBuffer),
	}
	for _, id := range gardenIDs {
		conn.gardens[id] = struct{}{}
	}
	h.register(conn)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg := <-conn.send:
				handler(msg)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.unregister(conn.sessionID)
			close(done)
		})
	}
	return cancel, nil
}

// ActiveSessions returns the number of connected clients. Exposed for
// the metrics gauge.
func (h *Hub) ActiveSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) fanOut(msg datatypes.BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, conn := range h.conns {
		if !conn.wants(msg) {
			continue
		}
		select {
		case conn.send <- msg:
		default:
			// Slow consumer; it will converge through its own sweep.
			h.logger.Debug("dropping broadcast for slow consumer",
				"sessionId", conn.sessionID, "gardenId", msg.GardenID)
		}
	}
}

func (h *Hub) register(conn *hubConn) {
	h.mu.Lock()
	h.conns[conn.sessionID] = conn
	h.mu.Unlock()
}

func (h *Hub) unregister(sessionID string) {
	h.mu.Lock()
	delete(h.conns, sessionID)
	h.mu.Unlock()
}

// HandleWS returns the gin handler for the hub's websocket endpoint.
//
// Protocol: the client sends one subscribeRequest frame, receives a
// sessionAck, then exchanges datatypes.BroadcastMessage frames in both
// directions. Inbound messages are fanned out to every matching
// connection, origin included.
func HandleWS(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		var req subscribeRequest
		if err := ws.ReadJSON(&req); err != nil {
			h.logger.Warn("websocket client sent no subscribe frame", "error", err)
			return
		}
		if req.UserID == "" {
			h.logger.Warn("websocket subscribe frame missing userId")
			return
		}

		conn := &hubConn{
			sessionID: uuid.New().String(),
			userID:    req.UserID,
			gardens:   make(map[string]struct{}, len(req.GardenIDs)),
			send:      make(chan datatypes.BroadcastMessage, hubSendBuffer),
			limiter:   rate.NewLimiter(hubPublishRate, hubPublishBurst),
		}
		for _, id := range req.GardenIDs {
			conn.gardens[id] = struct{}{}
		}

		h.register(conn)
		defer h.unregister(conn.sessionID)
		h.logger.Info("websocket client subscribed",
			"sessionId", conn.sessionID, "userId", conn.userID, "gardens", len(conn.gardens))

		if err := ws.WriteJSON(sessionAck{Action: "subscribed", SessionID: conn.sessionID}); err != nil {
			return
		}

		// Writer: drains the send queue onto the socket. The queue is
		// never closed — a fanOut that grabbed this conn under RLock
		// may still send after disconnect, so the writer is ended with
		// done instead and late sends land in the buffer unharmed.
		done := make(chan struct{})
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-done:
					return
				case msg := <-conn.send:
					ws.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
					if err := ws.WriteJSON(msg); err != nil {
						h.logger.Debug("websocket write failed", "sessionId", conn.sessionID, "error", err)
						return
					}
				}
			}
		}()

		// Reader: inbound publishes from this client.
		for {
			var msg datatypes.BroadcastMessage
			if err := ws.ReadJSON(&msg); err != nil {
				h.logger.Info("websocket client disconnected",
					"sessionId", conn.sessionID, "error", err.Error())
				break
			}
			if !conn.limiter.Allow() {
				h.logger.Warn("rate-limiting websocket publisher", "sessionId", conn.sessionID)
				continue
			}
			if msg.GardenID == "" {
				continue
			}
			h.fanOut(msg)
		}

		h.unregister(conn.sessionID)
		close(done)
		<-writerDone
	}
}
