// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	wserrors "github.com/absmach/wsserial/pkg/errors"
	"github.com/absmach/wsserial/pkg/serial"
	"github.com/absmach/wsserial/pkg/serial/serialtest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

type message struct {
	kind int
	data []byte
}

// fakeSocket is an in-memory client. Messages pushed to in are read by the
// bridge; messages the bridge writes appear on out.
type fakeSocket struct {
	in  chan message
	out chan []byte

	hangup     chan struct{}
	hangupOnce sync.Once

	interrupted chan struct{}
	interrupt   sync.Once

	writeErr atomic.Value
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:          make(chan message, 64),
		out:         make(chan []byte, 64),
		hangup:      make(chan struct{}),
		interrupted: make(chan struct{}),
	}
}

func (f *fakeSocket) send(kind int, s string) {
	f.in <- message{kind: kind, data: []byte(s)}
}

func (f *fakeSocket) close() {
	f.hangupOnce.Do(func() { close(f.hangup) })
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case m := <-f.in:
		return m.kind, m.data, nil
	case <-f.hangup:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	case <-f.interrupted:
		return 0, nil, timeoutError{}
	}
}

func (f *fakeSocket) WriteMessage(kind int, data []byte) error {
	if err, ok := f.writeErr.Load().(error); ok && err != nil {
		return err
	}
	f.out <- append([]byte(nil), data...)
	return nil
}

func (f *fakeSocket) SetReadDeadline(t time.Time) error {
	if !t.After(time.Now()) {
		f.interrupt.Do(func() { close(f.interrupted) })
	}
	return nil
}

func (f *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func testConfig() Config {
	return Config{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func runAsync(ctx context.Context, sock Socket, port io.ReadWriter, cfg Config) <-chan error {
	done := make(chan error, 1)
	go func() { done <- Run(ctx, sock, port, cfg) }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not terminate")
		return nil
	}
}

func TestRunUpstreamOneWritePerMessage(t *testing.T) {
	sock := newFakeSocket()
	port := serialtest.NewPort()
	done := runAsync(context.Background(), sock, port, testConfig())

	sock.send(websocket.BinaryMessage, "AT\r\n")
	sock.send(websocket.TextMessage, "ATI")
	sock.send(websocket.BinaryMessage, "")
	sock.send(websocket.BinaryMessage, "\x00\xff\x10")

	for i := 0; i < 3; i++ {
		select {
		case <-port.Written():
		case <-time.After(5 * time.Second):
			t.Fatalf("write %d not observed", i)
		}
	}
	sock.close()

	err := waitErr(t, done)
	assert.ErrorIs(t, err, wserrors.ErrClientDisconnect)
	assert.Equal(t, [][]byte{[]byte("AT\r\n"), []byte("ATI"), {0x00, 0xff, 0x10}}, port.Writes())
}

func TestRunDownstreamOneMessagePerRead(t *testing.T) {
	sock := newFakeSocket()
	port := serialtest.NewPort()
	done := runAsync(context.Background(), sock, port, testConfig())

	chunks := []string{"OK\r\n", "+CSQ: 21,0\r\n", "\x02binary\x03"}
	for _, c := range chunks {
		port.Emit([]byte(c))
	}

	for _, want := range chunks {
		select {
		case got := <-sock.out:
			assert.Equal(t, want, string(got))
		case <-time.After(5 * time.Second):
			t.Fatalf("message %q not forwarded", want)
		}
	}

	sock.close()
	assert.ErrorIs(t, waitErr(t, done), wserrors.ErrClientDisconnect)
}

func TestRunDownstreamSplitsAtBufferSize(t *testing.T) {
	sock := newFakeSocket()
	port := serialtest.NewPort()
	cfg := testConfig()
	cfg.BufferSize = 4
	done := runAsync(context.Background(), sock, port, cfg)

	port.Emit([]byte("0123456789"))

	var got strings.Builder
	for got.Len() < 10 {
		select {
		case m := <-sock.out:
			assert.LessOrEqual(t, len(m), 4)
			got.Write(m)
		case <-time.After(5 * time.Second):
			t.Fatal("downstream stalled")
		}
	}
	assert.Equal(t, "0123456789", got.String())

	sock.close()
	waitErr(t, done)
}

func TestRunSerialReadError(t *testing.T) {
	sock := newFakeSocket()
	port := serialtest.NewPort()
	done := runAsync(context.Background(), sock, port, testConfig())

	port.FailRead(errors.New("device reports EIO"))

	err := waitErr(t, done)
	assert.ErrorIs(t, err, wserrors.ErrSerialIO)
	assert.NotErrorIs(t, err, wserrors.ErrClientDisconnect)

	select {
	case <-sock.interrupted:
	default:
		t.Fatal("socket read was not interrupted")
	}
}

func TestRunSerialWriteError(t *testing.T) {
	sock := newFakeSocket()
	port := serialtest.NewPort()
	port.FailWrite(errors.New("device unplugged"))
	done := runAsync(context.Background(), sock, port, testConfig())

	sock.send(websocket.BinaryMessage, "AT\r\n")

	assert.ErrorIs(t, waitErr(t, done), wserrors.ErrSerialIO)
}

func TestRunSocketWriteError(t *testing.T) {
	sock := newFakeSocket()
	sock.writeErr.Store(errors.New("broken pipe"))
	port := serialtest.NewPort()
	done := runAsync(context.Background(), sock, port, testConfig())

	port.Emit([]byte("OK"))

	assert.ErrorIs(t, waitErr(t, done), wserrors.ErrClientDisconnect)
}

func TestRunCancelWhileIdle(t *testing.T) {
	sock := newFakeSocket()
	port := serialtest.NewPort()

	ctx, cancel := context.WithCancelCause(context.Background())
	done := runAsync(ctx, sock, port, testConfig())

	time.Sleep(3 * serialtest.PollInterval)
	cancel(wserrors.ErrShuttingDown)

	err := waitErr(t, done)
	assert.ErrorIs(t, err, wserrors.ErrShuttingDown)
	assert.Empty(t, port.Writes())
}

// cancelOnReadSocket cancels the run while delivering its first message.
type cancelOnReadSocket struct {
	*fakeSocket
	cancel context.CancelCauseFunc
	once   sync.Once
}

func (s *cancelOnReadSocket) ReadMessage() (int, []byte, error) {
	first := false
	s.once.Do(func() { first = true })
	if first {
		s.cancel(wserrors.ErrShuttingDown)
		return websocket.BinaryMessage, []byte("ATZ\r"), nil
	}
	return s.fakeSocket.ReadMessage()
}

func TestRunLogsMessageDroppedOnCancel(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{Logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	port := serialtest.NewPort()

	ctx, cancel := context.WithCancelCause(context.Background())
	sock := &cancelOnReadSocket{fakeSocket: newFakeSocket(), cancel: cancel}

	err := waitErr(t, runAsync(ctx, sock, port, cfg))
	assert.ErrorIs(t, err, wserrors.ErrShuttingDown)
	assert.Empty(t, port.Writes())

	out := buf.String()
	assert.Contains(t, out, "dropped inbound message on teardown")
	assert.Contains(t, out, "bytes=4")
}

func TestRunOnForward(t *testing.T) {
	sock := newFakeSocket()
	port := serialtest.NewPort()
	port.Respond = func(b []byte) []byte {
		if string(b) == "AT\r\n" {
			return []byte("OK\r\n")
		}
		return nil
	}

	var up, down atomic.Int64
	cfg := testConfig()
	cfg.OnForward = func(dir Direction, n int) {
		switch dir {
		case Upstream:
			up.Add(int64(n))
		case Downstream:
			down.Add(int64(n))
		}
	}
	done := runAsync(context.Background(), sock, port, cfg)

	sock.send(websocket.TextMessage, "AT\r\n")
	select {
	case got := <-sock.out:
		assert.Equal(t, "OK\r\n", string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("no response")
	}

	sock.close()
	waitErr(t, done)
	assert.Equal(t, int64(4), up.Load())
	assert.Equal(t, int64(4), down.Load())
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "upstream", Upstream.String())
	assert.Equal(t, "downstream", Downstream.String())
	assert.Equal(t, "unknown", Direction(7).String())
}

// bridgeServer upgrades one connection and bridges it to port until ctx is
// cancelled, then closes with the mapped close code.
func bridgeServer(t *testing.T, ctx context.Context, port *serialtest.Port) (string, <-chan error) {
	t.Helper()
	result := make(chan error, 1)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			result <- err
			return
		}
		conn := NewConn(ws)
		h := serial.NewHandle("/dev/fake", port)

		err = Run(ctx, conn, h, testConfig())
		h.Close()
		code, reason := wserrors.CloseCode(err)
		conn.CloseWith(code, reason)
		result <- err
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), result
}

func TestConnEndToEndEcho(t *testing.T) {
	port := serialtest.NewPort()
	port.Respond = serialtest.Echo()

	url, result := bridgeServer(t, context.Background(), port)
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte("ping\n")))
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	assert.Equal(t, "ping\n", string(data))

	require.NoError(t, client.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	select {
	case err := <-result:
		assert.ErrorIs(t, err, wserrors.ErrClientDisconnect)
	case <-time.After(5 * time.Second):
		t.Fatal("server session did not end")
	}
	assert.Equal(t, 1, port.CloseCalls())
	client.Close()
}

func TestConnCloseCodeOnCancel(t *testing.T) {
	port := serialtest.NewPort()
	ctx, cancel := context.WithCancelCause(context.Background())

	url, result := bridgeServer(t, ctx, port)
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	// Let the server enter the bridge before cancelling.
	port.Emit([]byte("ready"))
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ready", string(data))

	cancel(wserrors.ErrShuttingDown)

	_, _, err = client.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, wserrors.CloseGoingAway, ce.Code)
	assert.Equal(t, "server shutting down", ce.Text)

	select {
	case err := <-result:
		assert.ErrorIs(t, err, wserrors.ErrShuttingDown)
	case <-time.After(5 * time.Second):
		t.Fatal("server session did not end")
	}
}

func TestConnCloseWithOnce(t *testing.T) {
	upgrader := websocket.Upgrader{}
	closed := make(chan error, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws)
		closed <- conn.CloseWith(wserrors.ClosePortBusy, "endpoint busy")
		closed <- conn.CloseWith(wserrors.CloseInternalError, "ignored")
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = client.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, wserrors.ClosePortBusy, ce.Code)
	assert.Equal(t, "endpoint busy", ce.Text)

	first, second := <-closed, <-closed
	assert.NoError(t, first)
	assert.Equal(t, first, second)
}

func TestConnDefersCloseReplyUntilCloseWith(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotClose := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	defer unblock()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := NewConn(ws)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		close(gotClose)
		<-release
		conn.CloseWith(wserrors.CloseSerialIO, "serial i/o error")
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second)))
	select {
	case <-gotClose:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not see the close frame")
	}

	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	reply := make(chan error, 1)
	go func() {
		_, _, err := client.ReadMessage()
		reply <- err
	}()

	select {
	case err := <-reply:
		t.Fatalf("close answered before CloseWith: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	unblock()
	select {
	case err := <-reply:
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, wserrors.CloseSerialIO, ce.Code)
		assert.Equal(t, "serial i/o error", ce.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("no close frame after CloseWith")
	}
}
