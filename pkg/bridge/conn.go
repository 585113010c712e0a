// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGracePeriod bounds how long CloseWith waits for the close frame to be
// written and for the peer's close reply.
const closeGracePeriod = time.Second

// Conn wraps a websocket.Conn for the bridge. Data writes are serialized and
// the connection is closed exactly once with an explicit close code.
type Conn struct {
	*websocket.Conn
	wio       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

var _ Socket = (*Conn)(nil)

// NewConn wraps an upgraded websocket connection.
//
// A close frame from the peer is not answered when it arrives. The only close
// frame sent is the one from CloseWith, so a client that sees its close
// handshake complete knows the session has already released its device.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetCloseHandler(func(int, string) error {
		return nil
	})
	return &Conn{
		Conn: ws,
	}
}

// WriteMessage writes one data message.
func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.wio.Lock()
	defer c.wio.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// CloseWith sends a close frame with code and reason, waits briefly for the
// peer to answer, then closes the underlying connection. Only the first call
// has any effect. It must not run concurrently with a reader of the
// connection.
func (c *Conn) CloseWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(closeGracePeriod)
		msg := websocket.FormatCloseMessage(code, reason)
		if err := c.WriteControl(websocket.CloseMessage, msg, deadline); err == nil {
			// Wait for the client's close reply so the frame is not lost to a reset.
			if err := c.SetReadDeadline(deadline); err != nil {
				c.closeErr = err
			}
			for {
				if _, _, err := c.NextReader(); err != nil {
					break
				}
			}
		} else if !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
		if err := c.Conn.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}
