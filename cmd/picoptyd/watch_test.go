package main

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/antonkrylov/picopty/internal/registry"
)

type fakeAPI struct {
	list         []registry.Info
	listErr      error
	disconnected []string
}

func (f *fakeAPI) ListDevices(context.Context, ...grpc.CallOption) ([]registry.Info, error) {
	return f.list, f.listErr
}

func (f *fakeAPI) Disconnect(_ context.Context, serial string, _ ...grpc.CallOption) error {
	f.disconnected = append(f.disconnected, serial)
	return nil
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestWatchModelRendersDevices(t *testing.T) {
	api := &fakeAPI{list: []registry.Info{
		{Number: 1, Serial: "ABC123", Link: "/home/project/pico1", Connected: true},
		{Number: 2, Serial: "DEF456"},
	}}
	m := newWatchModel(context.Background(), api, time.Second)

	next, _ := m.Update(m.fetchCmd()())
	m = next.(watchModel)
	view := m.View()
	require.Contains(t, view, "ABC123")
	require.Contains(t, view, "DEF456")
	require.Contains(t, view, "2 device(s)")

	next, cmd := m.Update(key("x"))
	m = next.(watchModel)
	require.NotNil(t, cmd)
	msg := cmd()
	require.Equal(t, disconnectedMsg{serial: "ABC123"}, msg)
	require.Equal(t, []string{"ABC123"}, api.disconnected)

	next, cmd = m.Update(msg)
	m = next.(watchModel)
	require.Contains(t, m.View(), "disconnected ABC123")
	require.IsType(t, devicesMsg{}, cmd())
}

func TestWatchModelShowsErrors(t *testing.T) {
	api := &fakeAPI{listErr: errors.New("connection refused")}
	m := newWatchModel(context.Background(), api, 0)

	next, _ := m.Update(m.fetchCmd()())
	require.Contains(t, next.View(), "connection refused")
}

func TestWatchModelQuits(t *testing.T) {
	m := newWatchModel(context.Background(), &fakeAPI{}, time.Second)
	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}
