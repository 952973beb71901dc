// Package relay holds the byte-forwarding primitives used between device
// sockets and PTY masters: an unbounded single-writer queue per handle and a
// read pump that hands copied chunks to a callback.
package relay

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"syscall"
)

// DefaultReadSize matches the chunk size handed to readers per read.
const DefaultReadSize = 64 * 1024

// Queue serializes writes to one handle from a dedicated goroutine. Each
// enqueued buffer is owned by the queue until its write completes. There is
// no high-water mark: a slow peer accumulates pending buffers.
type Queue struct {
	w       io.Writer
	onError func(error)

	mu      sync.Mutex
	pending [][]byte
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewQueue starts the writer goroutine for w. onError, if set, is called
// from the writer goroutine for every failed write.
func NewQueue(w io.Writer, onError func(error)) *Queue {
	q := &Queue{
		w:       w,
		onError: onError,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue hands b to the queue. It reports false once the queue is closed,
// in which case b is dropped.
func (q *Queue) Enqueue(b []byte) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, b)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Len is the number of buffers waiting to be written.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the writer and discards pending buffers, returning how many
// were dropped. A write already in progress is cancelled only by closing
// the underlying handle, which is the caller's job.
func (q *Queue) Close() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.closed = true
	dropped := len(q.pending)
	q.pending = nil
	q.mu.Unlock()
	close(q.stop)
	return dropped
}

// Done is closed when the writer goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			return
		case <-q.wake:
		}
		for {
			b, ok := q.pop()
			if !ok {
				break
			}
			if _, err := q.w.Write(b); err != nil && q.onError != nil {
				q.onError(err)
			}
		}
	}
}

func (q *Queue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return nil, false
	}
	b := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return b, true
}

// Pump reads r until it fails, passing a private copy of every chunk to
// deliver and the terminating error to finish. It blocks; run it in its own
// goroutine.
func Pump(r io.Reader, size int, deliver func([]byte), finish func(error)) {
	if size <= 0 {
		size = DefaultReadSize
	}
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			deliver(chunk)
		}
		if err != nil {
			finish(err)
			return
		}
	}
}

// IsClosed reports whether err is an ordinary end of stream: peer EOF, a
// handle closed locally, or EIO from a PTY master whose slave went away.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, syscall.EIO)
}
