// Copyright (C) 2026 Verdant Labs (dev@verdantlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verdantlabs/verdant/services/progress/datatypes"
)

// ErrNotSubscribed is returned by Publish before Subscribe has
// established a connection.
var ErrNotSubscribed = errors.New("broadcast client not subscribed")

// WSClient bridges a remote hub to the Subscriber/Publisher contracts.
//
// One WSClient carries one subscription. The read loop runs until the
// subscription is cancelled or the connection drops; on a drop it
// redials with a fixed backoff so a transient network failure does not
// permanently silence the realtime boundary.
type WSClient struct {
	url    string
	logger *slog.Logger

	// redialBackoff is the pause between reconnect attempts.
	redialBackoff time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSClient creates a client for the hub at url (a ws:// or wss://
// endpoint). If logger is nil, slog.Default() is used.
func NewWSClient(url string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		url:           url,
		logger:        logger,
		redialBackoff: 2 * time.Second,
	}
}

// Subscribe implements Subscriber. The initial dial is synchronous so
// the caller learns immediately whether the hub is reachable;
// reconnects after that are handled in the background.
func (c *WSClient) Subscribe(ctx context.Context, userID string, gardenIDs []string, h Handler) (func(), error) {
	conn, err := c.dial(ctx, userID, gardenIDs)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	runCtx, cancelRun := context.WithCancel(ctx)
	go c.readLoop(runCtx, userID, gardenIDs, h)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelRun()
			c.mu.Lock()
			c.closed = true
			if c.conn != nil {
				c.conn.Close()
			}
			c.mu.Unlock()
		})
	}
	return cancel, nil
}

// Publish implements Publisher.
func (c *WSClient) Publish(_ context.Context, msg datatypes.BroadcastMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.closed {
		return ErrNotSubscribed
	}
	c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

func (c *WSClient) dial(ctx context.Context, userID string, gardenIDs []string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial broadcast hub %s: %w", c.url, err)
	}

	if err := conn.WriteJSON(subscribeRequest{UserID: userID, GardenIDs: gardenIDs}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send subscribe frame: %w", err)
	}

	var ack sessionAck
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read subscribe ack: %w", err)
	}
	c.logger.Info("subscribed to broadcast hub", "sessionId", ack.SessionID)
	return conn, nil
}

func (c *WSClient) readLoop(ctx context.Context, userID string, gardenIDs []string, h Handler) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		for conn != nil {
			var msg datatypes.BroadcastMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("broadcast connection lost", "error", err)
				}
				break
			}
			h(msg)
		}

		// Redial unless the subscription was cancelled.
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.redialBackoff):
		}

		conn, err := c.dial(ctx, userID, gardenIDs)
		if err != nil {
			c.logger.Warn("broadcast redial failed", "error", err)
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			continue
		}
		c.mu.Lock()
		if c.closed {
			conn.Close()
			c.mu.Unlock()
			return
		}
		c.conn = conn
		c.mu.Unlock()
	}
}

var (
	_ Subscriber = (*WSClient)(nil)
	_ Publisher  = (*WSClient)(nil)
)
