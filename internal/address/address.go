// Package address publishes device PTYs under stable numbered symlinks.
package address

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

const (
	// DefaultDir is where links are created unless configured otherwise.
	DefaultDir = "/home/project"
	// DefaultPrefix precedes the device number in the link name.
	DefaultPrefix = "pico"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Publisher creates and removes <Dir>/<Prefix><N> symlinks.
type Publisher struct {
	Dir    string
	Prefix string
	Logger *slog.Logger
}

// New returns a Publisher with defaults applied.
func New(dir, prefix string, logger *slog.Logger) *Publisher {
	if dir == "" {
		dir = DefaultDir
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = discardLogger
	}
	return &Publisher{Dir: dir, Prefix: prefix, Logger: logger}
}

// Path returns the link path for a device number.
func (p *Publisher) Path(number int) string {
	return filepath.Join(p.Dir, p.Prefix+strconv.Itoa(number))
}

// Publish links the device number to target. An existing entry at the link
// path is left untouched and reported as created=false with no error; stale
// targets are never repaired.
func (p *Publisher) Publish(number int, target string) (created bool, err error) {
	link := p.Path(number)
	if _, err := os.Lstat(link); err == nil {
		p.Logger.Info("symlink already exists", "path", link)
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		p.Logger.Error("inspect symlink", "path", link, "err", err)
		return false, fmt.Errorf("inspect %s: %w", link, err)
	}
	if err := os.Symlink(target, link); err != nil {
		p.Logger.Error("create symlink", "path", link, "target", target, "err", err)
		return false, fmt.Errorf("symlink %s: %w", link, err)
	}
	p.Logger.Info("created symlink", "path", link, "target", target)
	return true, nil
}

// Unpublish removes the link for the device number. A missing link is
// logged and returned as an error wrapping fs.ErrNotExist; callers treat it
// as non-fatal.
func (p *Publisher) Unpublish(number int) error {
	link := p.Path(number)
	if err := os.Remove(link); err != nil {
		p.Logger.Warn("remove symlink", "path", link, "err", err)
		return fmt.Errorf("remove %s: %w", link, err)
	}
	p.Logger.Info("removed symlink", "path", link)
	return nil
}
