package transcript

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteThenReplay(t *testing.T) {
	dir := t.TempDir()
	name := FileName("pico", 3, "ABC123", time.Unix(1700000000, 0))
	require.Equal(t, "pico3-ABC123-1700000000"+Ext, name)

	w, err := Create(dir, name)
	require.NoError(t, err)
	require.NoError(t, w.Record(Command, []byte("status\r\n")))
	require.NoError(t, w.Record(Response, []byte("ok\r")))
	require.NoError(t, w.Record(Response, nil))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Record(Command, []byte("late")), os.ErrClosed)

	f, err := os.Open(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()

	r, err := NewReader(f)
	require.NoError(t, err)
	defer r.Close()

	rec, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, Command, rec.Direction)
	require.Equal(t, "status\r\n", string(rec.Data))

	rec, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, Response, rec.Direction)
	require.Equal(t, "ok\r", string(rec.Data))

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestFileNameSanitizesSerial(t *testing.T) {
	name := FileName("pico", 1, "../../etc/passwd", time.Unix(1, 0))
	require.NotContains(t, name, "/")

	name = FileName("pico", 2, "", time.Unix(1, 0))
	require.Contains(t, name, "unknown")

	name = FileName("pico", 3, strings.Repeat("z", 300), time.Unix(1, 0))
	require.Less(t, len(name), 100)
}

func TestDirectionString(t *testing.T) {
	require.Equal(t, "command", Command.String())
	require.Equal(t, "response", Response.String())
}
