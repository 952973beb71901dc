// Package transcript records the traffic of one device into a zstd
// compressed file of length-delimited records.
package transcript

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Direction tags which way a record travelled.
type Direction byte

const (
	// Command is PTY output sent to the device.
	Command Direction = '>'
	// Response is a device line written into the PTY.
	Response Direction = '<'
)

// Ext is the file extension used for transcripts.
const Ext = ".ptyt.zst"

const maxRecord = 16 * 1024 * 1024

func (d Direction) String() string {
	switch d {
	case Command:
		return "command"
	case Response:
		return "response"
	default:
		return fmt.Sprintf("direction(%d)", byte(d))
	}
}

// Writer appends records for one device. Safe for concurrent use.
type Writer struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *zstd.Encoder
	hdr  [1 + binary.MaxVarintLen64]byte
}

// FileName builds the transcript file name for a device.
func FileName(prefix string, number int, serial string, at time.Time) string {
	return fmt.Sprintf("%s%d-%s-%d%s", prefix, number, sanitize(serial), at.Unix(), Ext)
}

// Create opens a new transcript under dir.
func Create(dir, name string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{path: path, file: f, enc: enc}, nil
}

// Path returns the file backing the transcript.
func (w *Writer) Path() string {
	return w.path
}

// Record appends one record and flushes the encoder.
func (w *Writer) Record(dir Direction, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return os.ErrClosed
	}
	w.hdr[0] = byte(dir)
	n := binary.PutUvarint(w.hdr[1:], uint64(len(data)))
	if _, err := w.enc.Write(w.hdr[:1+n]); err != nil {
		return err
	}
	if _, err := w.enc.Write(data); err != nil {
		return err
	}
	return w.enc.Flush()
}

// Close finishes the zstd frame and closes the file. Later calls are no-ops.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return nil
	}
	err := w.enc.Close()
	w.enc = nil
	return errors.Join(err, w.file.Close())
}

// Record is a decoded transcript entry.
type Record struct {
	Direction Direction
	Data      []byte
}

// Reader decodes a transcript stream.
type Reader struct {
	dec *zstd.Decoder
	br  *bufio.Reader
}

// NewReader wraps r, which must yield a transcript written by Writer.
func NewReader(r io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &Reader{dec: dec, br: bufio.NewReader(dec)}, nil
}

// Next returns the next record or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	tag, err := r.br.ReadByte()
	if err != nil {
		return Record{}, err
	}
	dir := Direction(tag)
	if dir != Command && dir != Response {
		return Record{}, fmt.Errorf("invalid record direction %q", tag)
	}
	l, err := binary.ReadUvarint(r.br)
	if err != nil {
		return Record{}, unexpected(err)
	}
	if l == 0 || l > maxRecord {
		return Record{}, fmt.Errorf("invalid record length %d", l)
	}
	buf := make([]byte, l)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return Record{}, unexpected(err)
	}
	return Record{Direction: dir, Data: buf}, nil
}

// Close releases decoder resources.
func (r *Reader) Close() {
	r.dec.Close()
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func sanitize(serial string) string {
	const limit = 64
	var b strings.Builder
	for _, c := range serial {
		if b.Len() >= limit {
			break
		}
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
