package server

import (
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/picopty/internal/events"
	"github.com/antonkrylov/picopty/internal/registry"
	"github.com/antonkrylov/picopty/internal/relay"
)

// conn is one device socket. Every field is loop-owned except nc and out,
// which the reader and writer goroutines use.
type conn struct {
	id         string
	nc         net.Conn
	remote     string
	acceptedAt time.Time

	out    *relay.Queue
	device *registry.Device
	closed bool
}

func newConn(nc net.Conn) *conn {
	return &conn{
		id:         strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		nc:         nc,
		remote:     nc.RemoteAddr().String(),
		acceptedAt: time.Now(),
	}
}

func (c *conn) ID() string         { return c.id }
func (c *conn) RemoteAddr() string { return c.remote }

func connOf(dev *registry.Device) *conn {
	if dev == nil || dev.Conn == nil {
		return nil
	}
	c, _ := dev.Conn.(*conn)
	return c
}

func (s *Server) accept(c *conn) {
	c.out = relay.NewQueue(c.nc, func(err error) {
		if !relay.IsClosed(err) {
			s.logger.Error("error writing to client", "conn", c.id, "err", err)
		}
	})
	s.conns[c.id] = c
	s.logger.Debug("connection accepted", "conn", c.id, "remote", c.remote)

	go relay.Pump(c.nc, s.cfg.ReadBufferSize,
		func(chunk []byte) { s.post(func() { s.handleClientChunk(c, chunk) }) },
		func(err error) { s.post(func() { s.handleClientClosed(c, err) }) },
	)
}

// handleClientChunk drives the AWAITING_IDENTITY -> ATTACHED state machine.
// An identification message is honoured in either state.
func (s *Server) handleClientChunk(c *conn, chunk []byte) {
	if c.closed {
		return
	}
	msg := message(chunk)
	if serial, ok := serialOf(msg); ok {
		s.identify(c, serial)
		return
	}
	if c.device == nil || c.device.Number <= 0 {
		s.logger.Debug("ignoring message before identification", "conn", c.id, "remote", c.remote)
		return
	}
	s.forwardLine(c, msg)
}

func (s *Server) identify(c *conn, serial string) {
	dev, created := s.reg.Identify(serial)
	if c.device == dev {
		s.logger.Debug("connection already identified", "conn", c.id, "device", dev.Number)
		return
	}
	if prev := c.device; prev != nil {
		// Rebinding an attached connection to another serial leaves the
		// previous device registered without a connection.
		if prev.Conn == c {
			prev.Conn = nil
		}
		s.logger.Info("connection rebound", "conn", c.id, "from", prev.Number, "to", dev.Number)
	}

	if created {
		dev.Conn = c
		c.device = dev
		s.provision(dev)
		s.logger.Info("client connected", "device", dev.Number, "serial", dev.Serial, "conn", c.id, "remote", c.remote)
		s.notify(events.Created, dev, c)
		return
	}

	if old := connOf(dev); old != nil && old != c {
		// Last identification wins. Unbind first so the old socket's EOF
		// does not destroy the device.
		old.device = nil
		dev.Conn = nil
		s.closeConn(old)
		s.logger.Info("displaced previous connection", "device", dev.Number, "conn", old.id, "remote", old.remote)
		s.notify(events.Displaced, dev, old)
	}
	dev.Conn = c
	c.device = dev
	s.logger.Info("client reconnected", "device", dev.Number, "serial", dev.Serial, "conn", c.id, "remote", c.remote)
	s.notify(events.Reconnected, dev, c)
}

func (s *Server) forwardLine(c *conn, msg string) {
	dev := c.device
	s.logger.Debug("response", "device", dev.Number, "data", msg)
	st := s.devices[dev.Number]
	if st == nil || st.in == nil {
		s.logger.Debug("device has no pty, dropping line", "device", dev.Number)
		return
	}
	line := make([]byte, len(msg)+1)
	copy(line, msg)
	line[len(msg)] = '\r'
	st.record(s, responseDir, line)
	if !st.in.Enqueue(line) {
		s.logger.Debug("pty closed, dropping line", "device", dev.Number)
	}
}

// handleClientClosed runs when the socket reader stops. For a bound
// connection this destroys the whole device, not just the connection.
func (s *Server) handleClientClosed(c *conn, err error) {
	if c.closed {
		return
	}
	if !relay.IsClosed(err) {
		s.logger.Error("error reading from client", "conn", c.id, "remote", c.remote, "err", err)
	}
	dev := c.device
	s.closeConn(c)
	if dev != nil && dev.Conn == c {
		s.cleanup(dev, "client disconnected")
	}
}

// closeConn closes the socket and discards its pending writes.
func (s *Server) closeConn(c *conn) {
	if c.closed {
		return
	}
	c.closed = true
	if dropped := c.out.Close(); dropped > 0 {
		s.logger.Debug("discarded pending client writes", "conn", c.id, "count", dropped)
	}
	_ = c.nc.Close()
	delete(s.conns, c.id)
}
