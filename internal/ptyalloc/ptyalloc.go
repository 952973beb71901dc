// Package ptyalloc acquires pseudo-terminal pairs for attached devices.
package ptyalloc

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// ErrPTYCreation marks a failure to obtain a pty pair or its slave path.
var ErrPTYCreation = errors.New("pty creation failed")

// PTY is an allocated master/slave pair. The slave is held open for the
// lifetime of the device so the terminal stays valid for local consumers,
// but it is never read or written by this process.
type PTY struct {
	Master *os.File
	Slave  *os.File
	Path   string

	masterOnce sync.Once
	slaveOnce  sync.Once
}

// Allocator is the function signature used to obtain a PTY. Tests swap it
// out to simulate allocation failures.
type Allocator func() (*PTY, error)

// Open allocates a new pty pair. When raw is set the slave line discipline
// is switched to raw mode (no echo, no CR/NL translation).
func Open(raw bool) (*PTY, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPTYCreation, err)
	}
	path := slave.Name()
	if path == "" {
		_ = master.Close()
		_ = slave.Close()
		return nil, fmt.Errorf("%w: slave path unavailable", ErrPTYCreation)
	}
	if raw {
		if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
			_ = master.Close()
			_ = slave.Close()
			return nil, fmt.Errorf("%w: raw mode: %v", ErrPTYCreation, err)
		}
	}
	return &PTY{Master: master, Slave: slave, Path: path}, nil
}

// CloseMaster closes the master handle. Subsequent calls are no-ops.
func (p *PTY) CloseMaster() error {
	var err error
	p.masterOnce.Do(func() {
		err = p.Master.Close()
	})
	return err
}

// CloseSlave closes the slave handle. Subsequent calls are no-ops.
func (p *PTY) CloseSlave() error {
	var err error
	p.slaveOnce.Do(func() {
		err = p.Slave.Close()
	})
	return err
}

// Close releases both handles.
func (p *PTY) Close() error {
	return errors.Join(p.CloseMaster(), p.CloseSlave())
}
