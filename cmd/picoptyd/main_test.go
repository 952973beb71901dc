package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/antonkrylov/picopty/internal/config"
	"github.com/antonkrylov/picopty/internal/registry"
	"github.com/antonkrylov/picopty/internal/transcript"
)

func parseServeFlags(t *testing.T, args ...string) (*pflag.FlagSet, *serveOptions) {
	t.Helper()
	cmd := &cobra.Command{}
	o := &serveOptions{}
	o.bindFlags(cmd)
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd.Flags(), o
}

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestResolveSettingsDefaults(t *testing.T) {
	flags, o := parseServeFlags(t)
	s, err := resolveSettings(flags, o, nil, env(nil))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:5000", s.Listen)
	require.Equal(t, "/home/project", s.SymlinkDir)
	require.Equal(t, "pico", s.LinkPrefix)
	require.Equal(t, "127.0.0.1:5050", s.AdminListen)
	require.Equal(t, 64*1024, s.ReadBufferSize)
	require.False(t, s.RawMode)
	require.Equal(t, "info", s.Log.Level)
}

func TestResolveSettingsPrecedence(t *testing.T) {
	cfg := &config.Config{
		Listen:     "127.0.0.1:6000",
		SymlinkDir: "/from/config",
		LinkPrefix: "cfg",
		RawMode:    true,
		Admin:      config.Admin{Listen: "127.0.0.1:6001"},
		NATS:       config.NATS{URL: "nats://config:4222"},
	}
	vars := map[string]string{
		"PICOPTY_SYMLINK_DIR": "/from/env",
		"PICOPTY_NATS_URL":    "nats://env:4222",
	}

	flags, o := parseServeFlags(t, "--link-prefix", "flag", "-p", "7000")
	s, err := resolveSettings(flags, o, cfg, env(vars))
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:7000", s.Listen)
	require.Equal(t, "/from/env", s.SymlinkDir)
	require.Equal(t, "flag", s.LinkPrefix)
	require.True(t, s.RawMode)
	require.Equal(t, "127.0.0.1:6001", s.AdminListen)
	require.Equal(t, "nats://env:4222", s.NATS.URL)

	flags, o = parseServeFlags(t)
	s, err = resolveSettings(flags, o, cfg, env(nil))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6000", s.Listen)
	require.Equal(t, "/from/config", s.SymlinkDir)

	flags, o = parseServeFlags(t, "--raw=false", "--listen", "127.0.0.1:7100")
	s, err = resolveSettings(flags, o, cfg, env(map[string]string{"PICOPTY_LISTEN": "127.0.0.1:7200"}))
	require.NoError(t, err)
	require.False(t, s.RawMode)
	require.Equal(t, "127.0.0.1:7100", s.Listen)
}

func TestResolveSettingsValidation(t *testing.T) {
	for _, args := range [][]string{
		{"-p", "0"},
		{"-p", "70000"},
		{"--listen", "nonsense"},
		{"--listen", "127.0.0.1:0"},
		{"--link-prefix", "a/b"},
		{"--read-buffer", "0"},
	} {
		flags, o := parseServeFlags(t, args...)
		_, err := resolveSettings(flags, o, nil, env(nil))
		require.Error(t, err, "args %v", args)
	}

	flags, o := parseServeFlags(t)
	_, err := resolveSettings(flags, o, nil, env(map[string]string{"PICOPTY_RAW": "maybe"}))
	require.ErrorContains(t, err, "PICOPTY_RAW")
}

func TestResolveSettingsVerboseAndPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	flags, o := parseServeFlags(t, "--verbose", "--symlink-dir", "~/links", "--log-level", "error")
	s, err := resolveSettings(flags, o, nil, env(nil))
	require.NoError(t, err)
	require.Equal(t, "debug", s.Log.Level)
	require.Equal(t, filepath.Join(home, "links"), s.SymlinkDir)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel("warning"))
	require.Equal(t, slog.LevelError, parseLevel(" error "))
	require.Equal(t, slog.LevelInfo, parseLevel(""))
	require.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}

func TestNewLoggerWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "picopty.log")
	logger, closeLog, err := newLogger(slog.LevelInfo, true, path, nil)
	require.NoError(t, err)
	logger.Info("client connected", "device", 1)
	logger.Debug("hidden")
	closeLog()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"client connected"`)
	require.NotContains(t, string(data), "hidden")
}

func TestCopyUntilEscape(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, copyUntilEscape(&out, strings.NewReader("ls\r\x1dignored")))
	require.Equal(t, "ls\r", out.String())

	out.Reset()
	require.NoError(t, copyUntilEscape(&out, strings.NewReader("all of it")))
	require.Equal(t, "all of it", out.String())
}

func TestAttachPath(t *testing.T) {
	p, err := attachPath("3", "/home/project", "pico")
	require.NoError(t, err)
	require.Equal(t, "/home/project/pico3", p)

	p, err = attachPath("pico12", "/srv", "pico")
	require.NoError(t, err)
	require.Equal(t, "/srv/pico12", p)

	p, err = attachPath("/dev/pts/4", "/srv", "pico")
	require.NoError(t, err)
	require.Equal(t, "/dev/pts/4", p)

	for _, bad := range []string{"0", "-1", "abc"} {
		_, err := attachPath(bad, "/srv", "pico")
		require.Error(t, err, bad)
	}
}

func TestPrintTranscript(t *testing.T) {
	dir := t.TempDir()
	w, err := transcript.Create(dir, "pico1-X-1"+transcript.Ext)
	require.NoError(t, err)
	require.NoError(t, w.Record(transcript.Command, []byte("AT\r\n")))
	require.NoError(t, w.Record(transcript.Response, []byte("OK\r")))
	require.NoError(t, w.Close())

	var out bytes.Buffer
	require.NoError(t, printTranscriptFile(&out, w.Path(), false))
	require.Equal(t, "> \"AT\\r\\n\"\n< \"OK\\r\"\n", out.String())

	out.Reset()
	require.NoError(t, printTranscriptFile(&out, w.Path(), true))
	require.Equal(t, "AT\r\nOK\r", out.String())
}

func TestPrintDevices(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printDevices(&out, []registry.Info{
		{Number: 1, Serial: "ABC123", Link: "/home/project/pico1", PTYPath: "/dev/pts/3", Connected: true, Remote: "10.0.0.2:1234", CreatedAt: time.Now()},
		{Number: 2, Serial: "DEAD"},
	}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasPrefix(lines[0], "DEVICE"))
	require.Contains(t, lines[1], "ABC123")
	require.Contains(t, lines[1], "/dev/pts/3")
	require.Contains(t, lines[2], "<unknown>")
}

func TestRootCommandFlags(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--help"})
	require.NoError(t, cmd.Execute())
	require.Contains(t, out.String(), "--port")
	require.Contains(t, out.String(), "--daemon")

	cmd = newRootCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--bogus"})
	require.Error(t, cmd.Execute())
	require.Contains(t, out.String(), "Usage:")
}

func TestServeRejectsBadPort(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "none.yaml"), "-p", "0"})
	require.ErrorContains(t, cmd.Execute(), "invalid port")
}

func TestConfigInitAndView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	run := func(args ...string) (string, error) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(append([]string{"--config", path}, args...))
		err := cmd.Execute()
		return out.String(), err
	}

	_, err := run("config", "init")
	require.NoError(t, err)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/home/project", cfg.SymlinkDir)

	_, err = run("config", "init")
	require.ErrorContains(t, err, "already exists")

	t.Setenv("PICOPTY_NATS_PASS", "secret")
	view, err := run("config", "view")
	require.NoError(t, err)
	require.Contains(t, view, "0.0.0.0:5000")
	require.NotContains(t, view, "secret")
}
