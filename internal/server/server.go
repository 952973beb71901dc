// Package server accepts device connections, binds each identified device
// to a PTY published under a numbered symlink, and relays bytes between the
// two.
//
// All registry and per-device state is owned by a single loop goroutine.
// Socket and PTY readers, writers and admin callers never touch that state
// directly; they post closures onto the loop, which runs them one at a time.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/antonkrylov/picopty/internal/address"
	"github.com/antonkrylov/picopty/internal/events"
	"github.com/antonkrylov/picopty/internal/ptyalloc"
	"github.com/antonkrylov/picopty/internal/registry"
	"github.com/antonkrylov/picopty/internal/relay"
)

// DefaultPort is the TCP port devices connect to.
const DefaultPort = 5000

// ErrStopped is returned by queries made after the loop has exited.
var ErrStopped = errors.New("server stopped")

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type Config struct {
	ListenAddr     string
	SymlinkDir     string
	LinkPrefix     string
	RawMode        bool
	ReadBufferSize int
	TranscriptDir  string

	Allocate ptyalloc.Allocator
	Notifier events.Notifier
	Logger   *slog.Logger
}

type Server struct {
	cfg    Config
	logger *slog.Logger
	links  *address.Publisher

	listener net.Listener

	// Loop-owned.
	reg     *registry.Registry
	devices map[int]*deviceState
	conns   map[string]*conn

	calls    chan func()
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf("0.0.0.0:%d", DefaultPort)
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = relay.DefaultReadSize
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger
	}
	if cfg.Notifier == nil {
		cfg.Notifier = events.Nop{}
	}
	if cfg.Allocate == nil {
		raw := cfg.RawMode
		cfg.Allocate = func() (*ptyalloc.PTY, error) { return ptyalloc.Open(raw) }
	}

	return &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		links:   address.New(cfg.SymlinkDir, cfg.LinkPrefix, cfg.Logger),
		reg:     registry.New(),
		devices: make(map[int]*deviceState),
		conns:   make(map[string]*conn),
		calls:   make(chan func()),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start binds the listener and launches the loop. The loop runs until ctx
// is cancelled or Stop is called, then sweeps every device.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = lis
	s.logger.Info("server listening", "addr", lis.Addr().String(), "symlink_dir", s.links.Dir)

	go s.run(ctx)
	go s.acceptLoop()
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Link returns the symlink path a device number is published under.
func (s *Server) Link(number int) string {
	return s.links.Path(number)
}

// Stop requests the shutdown sweep and waits for it to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.listener != nil {
		<-s.done
	}
}

// Done is closed once the sweep has completed and the loop has exited.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case fn := <-s.calls:
			fn()
		case <-ctx.Done():
			s.shutdown()
			return
		case <-s.stop:
			s.shutdown()
			return
		}
	}
}

// shutdown is the sweep: every registered device is cleaned up, then any
// connection that never identified is dropped.
func (s *Server) shutdown() {
	_ = s.listener.Close()
	s.logger.Info("cleaning up devices", "count", s.reg.Len())
	for dev := range s.reg.All() {
		s.cleanup(dev, "shutdown")
	}
	for _, c := range s.conns {
		s.closeConn(c)
	}
}

// post hands fn to the loop. It reports false when the loop is gone.
func (s *Server) post(fn func()) bool {
	select {
	case s.calls <- fn:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) acceptLoop() {
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("new connection error", "err", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		c := newConn(nc)
		if !s.post(func() { s.accept(c) }) {
			_ = nc.Close()
			return
		}
	}
}

// query runs fn on the loop and waits for its result.
func query[T any](ctx context.Context, s *Server, fn func() (T, error)) (T, error) {
	var zero T
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	call := func() {
		v, err := fn()
		ch <- result{v, err}
	}
	select {
	case s.calls <- call:
	case <-s.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Devices snapshots the registry.
func (s *Server) Devices(ctx context.Context) ([]registry.Info, error) {
	return query(ctx, s, func() ([]registry.Info, error) {
		out := make([]registry.Info, 0, s.reg.Len())
		for dev := range s.reg.All() {
			out = append(out, s.info(dev))
		}
		return out, nil
	})
}

// Disconnect tears down the device registered under serial exactly as a
// client disconnect would.
func (s *Server) Disconnect(ctx context.Context, serial string) (registry.Info, error) {
	return query(ctx, s, func() (registry.Info, error) {
		dev, err := s.reg.Lookup(serial)
		if err != nil {
			return registry.Info{}, err
		}
		info := s.info(dev)
		s.cleanup(dev, "admin disconnect")
		return info, nil
	})
}

func (s *Server) info(dev *registry.Device) registry.Info {
	info := registry.Info{
		Number:    dev.Number,
		Serial:    dev.Serial,
		CreatedAt: dev.CreatedAt,
	}
	if dev.PTY != nil {
		info.PTYPath = dev.PTY.Path
	}
	if st := s.devices[dev.Number]; st != nil {
		info.Link = st.link
		if st.in != nil {
			info.QueuedWrites += st.in.Len()
		}
	}
	if c := connOf(dev); c != nil {
		info.Connected = true
		info.ConnID = c.id
		info.Remote = c.remote
		info.ConnectedAt = c.acceptedAt
		info.QueuedWrites += c.out.Len()
	}
	return info
}

func (s *Server) notify(kind events.Kind, dev *registry.Device, c *conn) {
	ev := events.Event{
		Kind:   kind,
		Device: dev.Number,
		Serial: dev.Serial,
		At:     time.Now(),
	}
	if dev.PTY != nil {
		ev.PTYPath = dev.PTY.Path
	}
	if c != nil {
		ev.Remote = c.remote
	}
	s.cfg.Notifier.Notify(ev)
}
