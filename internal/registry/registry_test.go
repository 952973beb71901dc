package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentifyAssignsSequentialNumbers(t *testing.T) {
	r := New()

	a, created := r.Identify("AAA")
	require.True(t, created)
	require.Equal(t, 1, a.Number)

	b, created := r.Identify("BBB")
	require.True(t, created)
	require.Equal(t, 2, b.Number)

	require.Equal(t, 2, r.Len())
	require.Equal(t, 3, r.NextNumber())
}

func TestIdentifyReconnectReturnsSameDevice(t *testing.T) {
	r := New()
	first, _ := r.Identify("ABC123")

	again, created := r.Identify("ABC123")
	require.False(t, created)
	require.Same(t, first, again)
	require.Equal(t, 1, r.Len())
}

func TestIdentifyIsCaseSensitive(t *testing.T) {
	r := New()
	lower, _ := r.Identify("abc")
	upper, created := r.Identify("ABC")
	require.True(t, created)
	require.NotEqual(t, lower.Number, upper.Number)
}

func TestNumbersAreNeverReused(t *testing.T) {
	r := New()
	dev, _ := r.Identify("ABC123")
	removed, ok := r.Remove(dev.Number)
	require.True(t, ok)
	require.Same(t, dev, removed)

	again, created := r.Identify("ABC123")
	require.True(t, created)
	require.Equal(t, 2, again.Number)
	require.False(t, r.Contains(dev))
	require.True(t, r.Contains(again))
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	r := New()
	r.Identify("AAA")

	_, ok := r.Remove(99)
	require.False(t, ok)

	dev, _ := r.Lookup("AAA")
	_, ok = r.Remove(dev.Number)
	require.True(t, ok)
	_, ok = r.Remove(dev.Number)
	require.False(t, ok)
	require.Equal(t, 0, r.Len())
}

func TestLookupAndGet(t *testing.T) {
	r := New()
	dev, _ := r.Identify("AAA")

	got, err := r.Lookup("AAA")
	require.NoError(t, err)
	require.Same(t, dev, got)

	got, err = r.Get(dev.Number)
	require.NoError(t, err)
	require.Same(t, dev, got)

	_, err = r.Lookup("missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get(7)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSerialTruncation(t *testing.T) {
	r := New()
	long := strings.Repeat("x", MaxSerialLen+40)

	dev, _ := r.Identify(long)
	require.Len(t, dev.Serial, MaxSerialLen)

	// Anything sharing the first MaxSerialLen bytes is the same device.
	again, created := r.Identify(long[:MaxSerialLen] + "different-tail")
	require.False(t, created)
	require.Same(t, dev, again)
}

func TestAllToleratesRemovalOfCurrent(t *testing.T) {
	r := New()
	for _, s := range []string{"a", "b", "c", "d"} {
		r.Identify(s)
	}

	var visited []string
	for dev := range r.All() {
		visited = append(visited, dev.Serial)
		r.Remove(dev.Number)
	}
	require.Equal(t, []string{"a", "b", "c", "d"}, visited)
	require.Equal(t, 0, r.Len())

	// A fresh call restarts over the now-empty registry.
	count := 0
	for range r.All() {
		count++
	}
	require.Zero(t, count)
}

func TestAllStopsEarly(t *testing.T) {
	r := New()
	r.Identify("a")
	r.Identify("b")

	count := 0
	for range r.All() {
		count++
		break
	}
	require.Equal(t, 1, count)
}
