package server

import (
	"errors"
	"io/fs"

	"github.com/antonkrylov/picopty/internal/events"
	"github.com/antonkrylov/picopty/internal/registry"
	"github.com/antonkrylov/picopty/internal/relay"
	"github.com/antonkrylov/picopty/internal/transcript"
)

const (
	commandDir  = transcript.Command
	responseDir = transcript.Response
)

// deviceState is the relay side of a registered device.
type deviceState struct {
	dev  *registry.Device
	in   *relay.Queue // writes into the PTY master; nil without a PTY
	link string

	transcript *transcript.Writer
}

func (st *deviceState) record(s *Server, dir transcript.Direction, data []byte) {
	if st.transcript == nil {
		return
	}
	if err := st.transcript.Record(dir, data); err != nil {
		s.logger.Warn("transcript write failed, disabling", "device", st.dev.Number, "err", err)
		_ = st.transcript.Close()
		st.transcript = nil
	}
}

// provision allocates the PTY, publishes its link and starts the PTY
// reader. Failures are logged and leave the device registered but degraded.
func (s *Server) provision(dev *registry.Device) {
	st := &deviceState{dev: dev}
	s.devices[dev.Number] = st

	p, err := s.cfg.Allocate()
	if err != nil {
		s.logger.Error("error creating pty", "device", dev.Number, "err", err)
		return
	}
	dev.PTY = p

	if _, err := s.links.Publish(dev.Number, p.Path); err == nil {
		st.link = s.links.Path(dev.Number)
	}

	if s.cfg.TranscriptDir != "" {
		name := transcript.FileName(s.links.Prefix, dev.Number, dev.Serial, dev.CreatedAt)
		w, err := transcript.Create(s.cfg.TranscriptDir, name)
		if err != nil {
			s.logger.Warn("open transcript", "device", dev.Number, "err", err)
		} else {
			st.transcript = w
		}
	}

	st.in = relay.NewQueue(p.Master, func(err error) {
		if !relay.IsClosed(err) {
			s.logger.Error("error writing to pty", "device", dev.Number, "err", err)
		}
	})
	go relay.Pump(p.Master, s.cfg.ReadBufferSize,
		func(chunk []byte) { s.post(func() { s.handlePTYOutput(st, chunk) }) },
		func(err error) { s.post(func() { s.handlePTYClosed(st, err) }) },
	)
}

// handlePTYOutput forwards PTY bytes unmodified to the bound connection.
func (s *Server) handlePTYOutput(st *deviceState, chunk []byte) {
	if !s.reg.Contains(st.dev) {
		return
	}
	s.logger.Debug("command", "device", st.dev.Number, "data", string(chunk))
	st.record(s, commandDir, chunk)
	c := connOf(st.dev)
	if c == nil {
		s.logger.Debug("no client attached, dropping pty output", "device", st.dev.Number, "bytes", len(chunk))
		return
	}
	c.out.Enqueue(chunk)
}

// handlePTYClosed closes the PTY side after its reader stops. The device
// stays registered; only a client disconnect or shutdown destroys it.
func (s *Server) handlePTYClosed(st *deviceState, err error) {
	if !s.reg.Contains(st.dev) {
		return
	}
	if !relay.IsClosed(err) {
		s.logger.Error("error reading from pty", "device", st.dev.Number, "err", err)
	}
	if st.in != nil {
		st.in.Close()
	}
	_ = st.dev.PTY.CloseMaster()
}

// cleanup releases everything a device holds and unlinks it. It is a no-op
// for a device that is no longer registered.
func (s *Server) cleanup(dev *registry.Device, reason string) {
	if !s.reg.Contains(dev) {
		return
	}
	st := s.devices[dev.Number]
	if st != nil && st.in != nil {
		st.in.Close()
	}
	if dev.PTY != nil {
		if err := dev.PTY.Close(); err != nil {
			s.logger.Warn("close pty", "device", dev.Number, "err", err)
		}
	}
	if err := s.links.Unpublish(dev.Number); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("unpublish", "device", dev.Number, "err", err)
	}
	c := connOf(dev)
	if c != nil {
		c.device = nil
		s.closeConn(c)
	}
	if st != nil && st.transcript != nil {
		if err := st.transcript.Close(); err != nil {
			s.logger.Warn("close transcript", "device", dev.Number, "err", err)
		}
	}
	dev.Conn = nil
	s.reg.Remove(dev.Number)
	delete(s.devices, dev.Number)

	s.logger.Info("device destroyed", "device", dev.Number, "serial", dev.Serial, "reason", reason)
	s.notify(events.Destroyed, dev, c)
}
