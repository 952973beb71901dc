// Package registry tracks known devices by serial identifier and hands out
// stable device numbers.
//
// A Registry is not safe for concurrent use. It is owned by the server's
// event loop and only ever touched from there.
package registry

import (
	"container/list"
	"errors"
	"iter"
	"time"

	"github.com/antonkrylov/picopty/internal/ptyalloc"
)

// MaxSerialLen bounds stored serial identifiers. Longer identifiers are
// truncated, not rejected.
const MaxSerialLen = 255

// ErrNotFound is returned when no device matches a lookup.
var ErrNotFound = errors.New("device not found")

// Conn is the connection currently bound to a device.
type Conn interface {
	ID() string
	RemoteAddr() string
}

// Device is one remote unit known to the registry.
type Device struct {
	Number    int
	Serial    string
	CreatedAt time.Time

	// PTY is nil when allocation failed; the device keeps its number but
	// has no relay path.
	PTY *ptyalloc.PTY

	// Conn is the live connection, if any. The registry does not own it.
	Conn Conn

	elem *list.Element
}

// Attached reports whether a connection is bound to the device.
func (d *Device) Attached() bool {
	return d.Conn != nil
}

// Info is a point-in-time view of a device for admin surfaces.
type Info struct {
	Number       int
	Serial       string
	PTYPath      string
	Link         string
	Connected    bool
	ConnID       string
	Remote       string
	CreatedAt    time.Time
	ConnectedAt  time.Time
	QueuedWrites int
}

// Registry is an insertion-ordered set of devices keyed by serial.
type Registry struct {
	order    *list.List
	bySerial map[string]*Device
	byNumber map[int]*Device
	next     int
	now      func() time.Time
}

// New returns an empty registry whose first device number is 1.
func New() *Registry {
	return &Registry{
		order:    list.New(),
		bySerial: make(map[string]*Device),
		byNumber: make(map[int]*Device),
		next:     1,
		now:      time.Now,
	}
}

// TruncateSerial applies the MaxSerialLen bound.
func TruncateSerial(serial string) string {
	if len(serial) > MaxSerialLen {
		return serial[:MaxSerialLen]
	}
	return serial
}

// Identify returns the device registered under serial, creating it with the
// next device number when absent. created is true only for new records.
// Serials compare byte-for-byte.
func (r *Registry) Identify(serial string) (dev *Device, created bool) {
	serial = TruncateSerial(serial)
	if dev, ok := r.bySerial[serial]; ok {
		return dev, false
	}
	dev = &Device{
		Number:    r.next,
		Serial:    serial,
		CreatedAt: r.now(),
	}
	r.next++
	dev.elem = r.order.PushBack(dev)
	r.bySerial[serial] = dev
	r.byNumber[dev.Number] = dev
	return dev, true
}

// Lookup finds a device by serial.
func (r *Registry) Lookup(serial string) (*Device, error) {
	dev, ok := r.bySerial[TruncateSerial(serial)]
	if !ok {
		return nil, ErrNotFound
	}
	return dev, nil
}

// Get finds a device by number.
func (r *Registry) Get(number int) (*Device, error) {
	dev, ok := r.byNumber[number]
	if !ok {
		return nil, ErrNotFound
	}
	return dev, nil
}

// Contains reports whether dev is still the registered record for its
// number. Stale pointers to removed devices report false.
func (r *Registry) Contains(dev *Device) bool {
	return dev != nil && r.byNumber[dev.Number] == dev
}

// Remove unlinks the device with the given number and returns it. Removing
// an absent number is a no-op returning ok=false.
func (r *Registry) Remove(number int) (dev *Device, ok bool) {
	dev, ok = r.byNumber[number]
	if !ok {
		return nil, false
	}
	delete(r.byNumber, number)
	delete(r.bySerial, dev.Serial)
	r.order.Remove(dev.elem)
	dev.elem = nil
	return dev, true
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	return r.order.Len()
}

// NextNumber is the number the next new device will receive.
func (r *Registry) NextNumber() int {
	return r.next
}

// All yields devices in insertion order. The yielded device may be removed
// by the caller during iteration; the successor is captured before yield.
func (r *Registry) All() iter.Seq[*Device] {
	return func(yield func(*Device) bool) {
		for e := r.order.Front(); e != nil; {
			next := e.Next()
			if !yield(e.Value.(*Device)) {
				return
			}
			e = next
		}
	}
}
