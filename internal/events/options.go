package events

import (
	"log/slog"
	"time"
)

// Options describe how lifecycle events are persisted in NATS JetStream.
type Options struct {
	URL           string
	User          string
	Password      string
	SubjectPrefix string
	Stream        string
	MaxBytes      int64
	DupeWindow    time.Duration
	// Buffer bounds events waiting to be published. Overflow is dropped.
	Buffer int
	Logger *slog.Logger
}

func (o *Options) setDefaults() {
	if o.SubjectPrefix == "" {
		o.SubjectPrefix = "picopty"
	}
	if o.Stream == "" {
		o.Stream = "picopty_events"
	}
	if o.MaxBytes == 0 {
		o.MaxBytes = 256 * 1024 * 1024 // 256MB
	}
	if o.DupeWindow == 0 {
		o.DupeWindow = 2 * time.Minute
	}
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
	if o.Logger == nil {
		o.Logger = discardLogger
	}
}
