// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/absmach/wsserial/pkg/bridge"
	"github.com/absmach/wsserial/pkg/endpoint"
	"github.com/absmach/wsserial/pkg/errors"
	"github.com/absmach/wsserial/pkg/handler"
	"github.com/absmach/wsserial/pkg/lease"
	"github.com/absmach/wsserial/pkg/metrics"
	"github.com/absmach/wsserial/pkg/ratelimit"
	"github.com/absmach/wsserial/pkg/serial"
	"github.com/absmach/wsserial/pkg/session"
	"github.com/gorilla/websocket"
)

const defaultShutdownTimeout = 30 * time.Second

// Config holds configuration for the serial bridge proxy.
type Config struct {
	Host string
	Port string

	// Registry resolves endpoint names. Required.
	Registry *endpoint.Registry

	// Opener opens serial devices. Required.
	Opener serial.Opener

	// Tracker and Coordinator are created when nil.
	Tracker     *lease.Tracker
	Coordinator *session.Coordinator

	// Handler receives lifecycle events. Defaults to handler.NoopHandler.
	Handler handler.Handler

	// Metrics, if set, records forwarded traffic and rate limited attempts.
	// Lifecycle metrics come from metrics.NewHandler in the handler chain.
	Metrics *metrics.Metrics

	// Limiter, if set, throttles upgrade attempts per remote host.
	Limiter *ratelimit.Limiter

	BufferSize   int
	WriteTimeout time.Duration

	// ShutdownTimeout bounds how long the HTTP listener waits for requests
	// that have not been upgraded yet. Active sessions are always drained.
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Proxy accepts WebSocket connections and bridges each one to the serial
// device its path names.
type Proxy struct {
	cfg      Config
	upgrader websocket.Upgrader
	handler  handler.Handler
	tracker  *lease.Tracker
	coord    *session.Coordinator
	server   *http.Server
	logger   *slog.Logger

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

var _ http.Handler = (*Proxy)(nil)

// New creates a proxy.
func New(cfg Config) (*Proxy, error) {
	if cfg.Registry == nil {
		return nil, errors.Wrapf(errors.ErrConfig, nil, "endpoint registry is required")
	}
	if cfg.Opener == nil {
		return nil, errors.Wrapf(errors.ErrConfig, nil, "serial opener is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = lease.NewTracker()
	}
	if cfg.Coordinator == nil {
		cfg.Coordinator = session.NewCoordinator(cfg.Logger)
	}
	if cfg.Handler == nil {
		cfg.Handler = &handler.NoopHandler{}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	p := &Proxy{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		handler: cfg.Handler,
		tracker: cfg.Tracker,
		coord:   cfg.Coordinator,
		logger:  cfg.Logger,
	}
	p.server = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: p.Handler(),
	}
	return p, nil
}

// Handler returns the proxy behind the rate limiter, if one is configured.
func (p *Proxy) Handler() http.Handler {
	return ratelimit.Middleware(p.cfg.Limiter, p, func(r *http.Request) {
		p.logger.Warn("upgrade rate limited", slog.String("remote", r.RemoteAddr))
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.RateLimited.Inc()
		}
	})
}

// Coordinator returns the shutdown coordinator the proxy registers sessions with.
func (p *Proxy) Coordinator() *session.Coordinator {
	return p.coord
}

// Tracker returns the port lease tracker.
func (p *Proxy) Tracker() *lease.Tracker {
	return p.tracker
}

// ServeHTTP upgrades the request and bridges it to a serial device until
// either side ends or the proxy shuts down. Refused connections are closed
// with a close code that names the reason.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("failed to upgrade client connection",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()))
		return
	}
	conn := bridge.NewConn(ws)

	sess := session.New(endpointName(r.URL.Path), r.RemoteAddr)
	logger := p.logger.With(
		slog.String("session", sess.ID),
		slog.String("endpoint", sess.Name()),
		slog.String("remote", sess.RemoteAddr),
	)
	logger.Debug("websocket connection upgraded")

	var cause error
	if p.enter() {
		defer p.inflight.Done()
		cause = p.serve(conn, sess, logger)
	} else {
		cause = p.reject(sess, p.hookContext(sess), logger, errors.ErrShuttingDown)
	}

	code, reason := errors.CloseCode(cause)
	if err := conn.CloseWith(code, reason); err != nil {
		logger.Debug("failed to close client connection", slog.String("error", err.Error()))
	}
	logger.Debug("websocket connection closed", slog.Int("code", code))
}

// enter counts a connection as in flight unless the proxy is draining.
func (p *Proxy) enter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return false
	}
	p.inflight.Add(1)
	return true
}

func (p *Proxy) hookContext(sess *session.Session) *handler.Context {
	cfg := sess.Endpoint()
	return &handler.Context{
		SessionID:  sess.ID,
		RemoteAddr: sess.RemoteAddr,
		Endpoint:   sess.Name(),
		Device:     cfg.Device,
		BaudRate:   cfg.BaudRate,
		Started:    sess.Started,
	}
}

// serve runs one session through its lifecycle and returns why it ended.
// Every path out of it has released the lease and closed the device.
func (p *Proxy) serve(conn *bridge.Conn, sess *session.Session, logger *slog.Logger) error {
	cfg, err := p.cfg.Registry.Resolve(sess.Name())
	if err != nil {
		return p.reject(sess, p.hookContext(sess), logger, err)
	}
	sess.Bind(cfg)
	hctx := p.hookContext(sess)
	logger = logger.With(slog.String("device", cfg.Device))
	p.transition(sess, session.Leasing, logger)

	l, err := p.tracker.Acquire(cfg.Device, sess.ID)
	if err != nil {
		return p.reject(sess, hctx, logger, err)
	}
	p.transition(sess, session.Opening, logger)

	port, err := p.cfg.Opener.Open(cfg.Device, cfg.BaudRate)
	if err != nil {
		p.tracker.Release(l)
		return p.reject(sess, hctx, logger, errors.Wrapf(errors.ErrSerialOpen, err, "open %s", cfg.Device))
	}
	h := serial.NewHandle(cfg.Device, port)

	ctx := sess.Context(p.coord.Context())
	if err := p.coord.Register(sess); err != nil {
		p.closeDevice(h, logger)
		p.tracker.Release(l)
		sess.Cancel(err)
		return p.reject(sess, hctx, logger, err)
	}
	p.transition(sess, session.Active, logger)

	logger.Info("session started", slog.Int("baud_rate", cfg.BaudRate))
	if err := p.handler.OnConnect(ctx, hctx); err != nil {
		logger.Error("connect handler error", slog.String("error", err.Error()))
	}

	cause := bridge.Run(ctx, conn, h, bridge.Config{
		BufferSize:   p.cfg.BufferSize,
		WriteTimeout: p.cfg.WriteTimeout,
		OnForward:    p.forwarded(sess.Name()),
		Logger:       logger,
	})

	p.transition(sess, session.Closing, logger)
	p.closeDevice(h, logger)
	p.tracker.Release(l)
	sess.Cancel(cause)
	p.transition(sess, session.Closed, logger)
	p.coord.Deregister(sess)

	p.logEnd(logger, cause, time.Since(sess.Started))
	if err := p.handler.OnDisconnect(context.Background(), hctx, cause); err != nil {
		logger.Error("disconnect handler error", slog.String("error", err.Error()))
	}
	return cause
}

func (p *Proxy) reject(sess *session.Session, hctx *handler.Context, logger *slog.Logger, reason error) error {
	p.transition(sess, session.Rejected, logger)
	err := errors.New("connect", sess.Name(), sess.ID, sess.RemoteAddr, reason)
	logger.Warn("connection rejected", slog.String("reason", reason.Error()))
	if herr := p.handler.OnReject(context.Background(), hctx, reason); herr != nil {
		logger.Error("reject handler error", slog.String("error", herr.Error()))
	}
	return err
}

func (p *Proxy) transition(sess *session.Session, to session.State, logger *slog.Logger) {
	if err := sess.Transition(to); err != nil {
		logger.Error("session state error", slog.String("error", err.Error()))
		return
	}
	logger.Debug("session state", slog.String("state", to.String()))
}

func (p *Proxy) closeDevice(h *serial.Handle, logger *slog.Logger) {
	if err := h.Close(); err != nil {
		logger.Warn("failed to close serial device", slog.String("error", err.Error()))
	}
}

func (p *Proxy) forwarded(name string) func(bridge.Direction, int) {
	if p.cfg.Metrics == nil {
		return nil
	}
	return func(dir bridge.Direction, n int) {
		p.cfg.Metrics.Forwarded(name, dir.String(), n)
	}
}

func (p *Proxy) logEnd(logger *slog.Logger, cause error, d time.Duration) {
	attrs := []any{slog.Duration("duration", d)}
	switch {
	case errors.Is(cause, errors.ErrSerialIO):
		logger.Error("session ended by serial fault", append(attrs, slog.String("error", cause.Error()))...)
	case errors.Is(cause, errors.ErrShuttingDown):
		logger.Info("session stopped for shutdown", attrs...)
	case errors.Is(cause, errors.ErrClientDisconnect):
		logger.Info("client disconnected", attrs...)
	default:
		logger.Error("session ended", append(attrs, slog.String("error", cause.Error()))...)
	}
}

// Listen binds the configured address and serves until ctx is cancelled,
// then drains every session before returning.
func (p *Proxy) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", p.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", p.server.Addr, err)
	}
	return p.Serve(ctx, ln)
}

// Serve is Listen on an existing listener. It takes ownership of ln.
func (p *Proxy) Serve(ctx context.Context, ln net.Listener) error {
	p.logger.Info("serial bridge started",
		slog.String("address", ln.Addr().String()),
		slog.Any("endpoints", p.cfg.Registry.Names()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- p.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		p.logger.Info("shutdown signal received, closing serial bridge")
		return p.Shutdown(context.Background())
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		_ = p.Shutdown(context.Background())
		return err
	}
}

// Shutdown stops accepting connections, cancels every active session and
// waits until all of them have released their devices and closed their
// sockets, or ctx is done.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	httpCtx, cancel := context.WithTimeout(ctx, p.cfg.ShutdownTimeout)
	if err := p.server.Shutdown(httpCtx); err != nil {
		p.logger.Warn("error closing listener", slog.String("error", err.Error()))
	}
	cancel()

	if err := p.coord.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("serial bridge shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// endpointName returns the last segment of a request path.
func endpointName(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
