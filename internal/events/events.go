// Package events publishes device lifecycle events to NATS JetStream.
package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Kind names a lifecycle transition.
type Kind string

const (
	Created     Kind = "created"
	Reconnected Kind = "reconnected"
	Displaced   Kind = "displaced"
	Destroyed   Kind = "destroyed"
)

// Event describes one transition of one device.
type Event struct {
	Kind    Kind
	Device  int
	Serial  string
	PTYPath string
	Remote  string
	At      time.Time
}

// Marshal renders the event as a protobuf Struct in JSON form.
func (e Event) Marshal() ([]byte, error) {
	st, err := structpb.NewStruct(map[string]any{
		"kind":    string(e.Kind),
		"device":  e.Device,
		"serial":  e.Serial,
		"ptyPath": e.PTYPath,
		"remote":  e.Remote,
		"at":      e.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(st)
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Notify(Event) {}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Mirror publishes events to a JetStream stream from a background goroutine.
type Mirror struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	opts     Options
	logger   *slog.Logger
	instance string

	seq       atomic.Uint64
	queue     chan Event
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// Connect dials NATS, ensures the stream exists and starts the publisher.
func Connect(ctx context.Context, opts Options) (*Mirror, error) {
	cfg := opts
	cfg.setDefaults()
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	natsOpts := []nats.Option{nats.Name("picoptyd")}
	if cfg.User != "" {
		natsOpts = append(natsOpts, nats.UserInfo(cfg.User, cfg.Password))
	}
	conn, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, err
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, err
	}
	m := &Mirror{
		conn:     conn,
		js:       js,
		opts:     cfg,
		logger:   cfg.Logger,
		instance: strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		queue:    make(chan Event, cfg.Buffer),
		done:     make(chan struct{}),
	}
	if err := m.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	go m.run()
	return m, nil
}

// Notify queues ev for publication without blocking.
func (m *Mirror) Notify(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.queue <- ev:
	default:
		m.logger.Warn("event queue full, dropping event", "kind", ev.Kind, "device", ev.Device)
	}
}

// Close publishes whatever is queued and disconnects.
func (m *Mirror) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		close(m.queue)
		m.mu.Unlock()
		<-m.done
		m.conn.Drain()
		m.conn.Close()
	})
}

// Subject returns the subject an event is published on.
func (m *Mirror) Subject(ev Event) string {
	return fmt.Sprintf("%s.devices.%d.%s", m.opts.SubjectPrefix, ev.Device, ev.Kind)
}

func (m *Mirror) run() {
	defer close(m.done)
	for ev := range m.queue {
		if err := m.publish(ev); err != nil {
			m.logger.Error("jetstream publish event", "kind", ev.Kind, "device", ev.Device, "err", err)
		}
	}
}

func (m *Mirror) publish(ev Event) error {
	payload, err := ev.Marshal()
	if err != nil {
		return err
	}
	msgID := fmt.Sprintf("%s:%s:%d:%d", m.instance, ev.Kind, ev.Device, m.seq.Add(1))
	_, err = m.js.Publish(m.Subject(ev), payload, nats.MsgId(msgID))
	return err
}

func (m *Mirror) ensureStream(ctx context.Context) error {
	cfg := &nats.StreamConfig{
		Name:       m.opts.Stream,
		Subjects:   []string{m.opts.SubjectPrefix + ".devices.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		MaxMsgs:    -1,
		MaxBytes:   m.opts.MaxBytes,
		Discard:    nats.DiscardOld,
		Duplicates: m.opts.DupeWindow,
	}
	if _, err := m.js.StreamInfo(cfg.Name, nats.Context(ctx)); err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			_, addErr := m.js.AddStream(cfg, nats.Context(ctx))
			return addErr
		}
		return err
	}
	_, err := m.js.UpdateStream(cfg, nats.Context(ctx))
	return err
}
