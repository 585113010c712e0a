// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/absmach/wsserial/pkg/errors"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// Defaults applied by Run when the config leaves them unset.
const (
	DefaultBufferSize   = 1024
	DefaultWriteTimeout = 10 * time.Second
)

// Direction indicates which way bytes flow through a session.
type Direction int

const (
	// Upstream is client to serial device.
	Upstream Direction = iota

	// Downstream is serial device to client.
	Downstream
)

// String returns a string representation of the direction.
func (d Direction) String() string {
	switch d {
	case Upstream:
		return "upstream"
	case Downstream:
		return "downstream"
	default:
		return "unknown"
	}
}

// Socket is the client side of a session. *websocket.Conn and *Conn satisfy it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Config tunes a bridge run.
type Config struct {
	// BufferSize is the size of the serial read buffer and so the largest
	// downstream message.
	BufferSize int

	// WriteTimeout bounds each downstream message write to the socket.
	WriteTimeout time.Duration

	// OnForward, if set, is called after each message is forwarded.
	OnForward func(dir Direction, n int)

	// Logger for per-session events.
	Logger *slog.Logger
}

// Run forwards bytes between sock and port until either side closes or
// fails, or ctx is cancelled. It always returns a non-nil cause:
//
//   - errors.ErrClientDisconnect when the client closed or went away,
//   - errors.ErrSerialIO when the device failed,
//   - context.Cause(ctx) when cancelled from outside.
//
// Each inbound message is written to port as one write; each non-empty read
// from port is sent as one binary message. Run does not close sock or port.
func Run(ctx context.Context, sock Socket, port io.ReadWriter, cfg Config) error {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.OnForward == nil {
		cfg.OnForward = func(Direction, int) {}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return socketToSerial(gctx, sock, port, cfg)
	})

	g.Go(func() error {
		return serialToSocket(gctx, sock, port, cfg)
	})

	// A pending socket read only returns on data, close or deadline.
	g.Go(func() error {
		<-gctx.Done()
		if err := sock.SetReadDeadline(time.Now()); err != nil {
			cfg.Logger.Debug("failed to interrupt socket read", slog.String("error", err.Error()))
		}
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return err
}

func socketToSerial(ctx context.Context, sock Socket, port io.Writer, cfg Config) error {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return errors.Wrapf(errors.ErrClientDisconnect, err, "read socket")
		}
		if len(data) == 0 {
			continue
		}
		if ctx.Err() != nil {
			cfg.Logger.Debug("dropped inbound message on teardown", slog.Int("bytes", len(data)))
			return context.Cause(ctx)
		}

		if _, err := port.Write(data); err != nil {
			return errors.Wrapf(errors.ErrSerialIO, err, "write %d bytes", len(data))
		}
		cfg.OnForward(Upstream, len(data))
	}
}

func serialToSocket(ctx context.Context, sock Socket, port io.Reader, cfg Config) error {
	buf := make([]byte, cfg.BufferSize)
	for {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}

		n, err := port.Read(buf)
		if n > 0 {
			if derr := sock.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); derr != nil {
				return errors.Wrapf(errors.ErrClientDisconnect, derr, "set write deadline")
			}
			if werr := sock.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return errors.Wrapf(errors.ErrClientDisconnect, werr, "write socket")
			}
			cfg.OnForward(Downstream, n)
		}
		if err != nil {
			return errors.Wrapf(errors.ErrSerialIO, err, "read")
		}
	}
}
