package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/antonkrylov/picopty/internal/registry"
)

type deviceAPI interface {
	ListDevices(ctx context.Context, opts ...grpc.CallOption) ([]registry.Info, error)
	Disconnect(ctx context.Context, serial string, opts ...grpc.CallOption) error
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live device table (x disconnects the selected device, q quits)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, conn, _, cancel, err := root.dialAdmin(cmd.Context())
			if err != nil {
				return err
			}
			cancel()
			defer conn.Close()

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()
			m := newWatchModel(ctx, c, every)
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = p.Run()
			return err
		},
	}
	cmd.Flags().DurationVar(&every, "interval", time.Second, "refresh interval")
	return cmd
}

type devicesMsg struct {
	list []registry.Info
	err  error
}

type disconnectedMsg struct {
	serial string
	err    error
}

type tickMsg struct{}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	statusStyle = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type watchModel struct {
	ctx     context.Context
	api     deviceAPI
	every   time.Duration
	timeout time.Duration

	table   table.Model
	devices []registry.Info
	status  string
	err     error
	updated time.Time
}

func newWatchModel(ctx context.Context, api deviceAPI, every time.Duration) watchModel {
	if every <= 0 {
		every = time.Second
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "DEV", Width: 4},
			{Title: "SERIAL", Width: 16},
			{Title: "LINK", Width: 24},
			{Title: "PTY", Width: 12},
			{Title: "CONN", Width: 5},
			{Title: "REMOTE", Width: 21},
			{Title: "QUEUED", Width: 6},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true)
	t.SetStyles(styles)
	return watchModel{
		ctx:     ctx,
		api:     api,
		every:   every,
		timeout: 5 * time.Second,
		table:   t,
		status:  "connecting",
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch t := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetHeight(max(3, t.Height-4))
		m.table.SetWidth(t.Width)
		return m, nil
	case tea.KeyMsg:
		switch t.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		case "x":
			row := m.table.SelectedRow()
			if len(row) < 2 {
				return m, nil
			}
			m.status = "disconnecting " + row[1]
			return m, m.disconnectCmd(row[1])
		}
	case tickMsg:
		return m, tea.Batch(m.fetchCmd(), m.tickCmd())
	case devicesMsg:
		m.err = t.err
		if t.err == nil {
			m.devices = t.list
			m.updated = time.Now()
			m.table.SetRows(deviceRows(t.list))
			m.status = fmt.Sprintf("%d device(s)", len(t.list))
		}
		return m, nil
	case disconnectedMsg:
		if t.err != nil {
			m.err = t.err
		} else {
			m.status = "disconnected " + t.serial
		}
		return m, m.fetchCmd()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m watchModel) View() string {
	header := titleStyle.Render("picoptyd devices")
	if !m.updated.IsZero() {
		header += statusStyle.Render("  updated " + m.updated.Format(time.TimeOnly))
	}
	footer := statusStyle.Render(m.status + "  |  up/down select  x disconnect  r refresh  q quit")
	if m.err != nil {
		footer = errorStyle.Render("error: "+m.err.Error()) + "\n" + footer
	}
	return header + "\n" + m.table.View() + "\n" + footer
}

func (m watchModel) fetchCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()
		list, err := m.api.ListDevices(ctx)
		return devicesMsg{list: list, err: err}
	}
}

func (m watchModel) disconnectCmd(serial string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, m.timeout)
		defer cancel()
		return disconnectedMsg{serial: serial, err: m.api.Disconnect(ctx, serial)}
	}
}

func (m watchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.every, func(time.Time) tea.Msg { return tickMsg{} })
}

func deviceRows(list []registry.Info) []table.Row {
	rows := make([]table.Row, 0, len(list))
	for _, d := range list {
		conn := "no"
		if d.Connected {
			conn = "yes"
		}
		rows = append(rows, table.Row{
			strconv.Itoa(d.Number),
			d.Serial,
			orDash(d.Link),
			orDash(d.PTYPath),
			conn,
			orDash(d.Remote),
			strconv.Itoa(d.QueuedWrites),
		})
	}
	return rows
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
