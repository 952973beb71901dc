package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/antonkrylov/picopty/internal/address"
	"github.com/antonkrylov/picopty/internal/admin"
	"github.com/antonkrylov/picopty/internal/config"
	"github.com/antonkrylov/picopty/internal/events"
	"github.com/antonkrylov/picopty/internal/relay"
	"github.com/antonkrylov/picopty/internal/server"
)

// adminOff disables the admin listener when given as its address.
const adminOff = "off"

type serveOptions struct {
	port          int
	daemon        bool
	listen        string
	symlinkDir    string
	linkPrefix    string
	raw           bool
	readBuffer    int
	transcriptDir string
	adminListen   string
	natsURL       string
	natsUser      string
	natsPass      string
	natsPrefix    string
	natsStream    string
	logLevel      string
	logJSON       bool
	logFile       string
	verbose       bool
}

func (o *serveOptions) bindFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVarP(&o.port, "port", "p", server.DefaultPort, "TCP port devices connect to")
	f.BoolVarP(&o.daemon, "daemon", "d", false, "detach and run in the background")
	f.StringVar(&o.listen, "listen", "", "full listen address, overrides --port (e.g. 127.0.0.1:5000)")
	f.StringVar(&o.symlinkDir, "symlink-dir", address.DefaultDir, "directory device symlinks are published in")
	f.StringVar(&o.linkPrefix, "link-prefix", address.DefaultPrefix, "symlink name prefix")
	f.BoolVar(&o.raw, "raw", false, "put each PTY into raw mode")
	f.IntVar(&o.readBuffer, "read-buffer", relay.DefaultReadSize, "read buffer size in bytes")
	f.StringVar(&o.transcriptDir, "transcript-dir", "", "record compressed per-device transcripts in this directory")
	f.StringVar(&o.adminListen, "admin-listen", admin.DefaultListenAddr, `admin gRPC listen address ("off" disables)`)
	f.StringVar(&o.natsURL, "nats-url", "", "NATS server URL for lifecycle events (disabled when empty)")
	f.StringVar(&o.natsUser, "nats-user", "", "NATS username")
	f.StringVar(&o.natsPass, "nats-pass", "", "NATS password")
	f.StringVar(&o.natsPrefix, "nats-subject-prefix", "", "subject prefix for lifecycle events (default picopty)")
	f.StringVar(&o.natsStream, "nats-stream", "", "JetStream stream for lifecycle events (default picopty_events)")
	f.StringVar(&o.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	f.BoolVar(&o.logJSON, "log-json", false, "emit logs as JSON")
	f.StringVar(&o.logFile, "log-file", "", "append logs to this file instead of stderr")
	f.BoolVar(&o.verbose, "verbose", false, "enable verbose debug logging (same as --log-level=debug)")
}

// settings is the effective daemon configuration after layering.
type settings struct {
	Listen         string
	SymlinkDir     string
	LinkPrefix     string
	RawMode        bool
	ReadBufferSize int
	TranscriptDir  string
	AdminListen    string
	NATS           config.NATS
	Log            config.Log
}

// resolveSettings layers an explicitly set flag over PICOPTY_* environment
// over the config file over flag defaults.
func resolveSettings(flags *pflag.FlagSet, o *serveOptions, cfg *config.Config, getenv func(string) string) (*settings, error) {
	if cfg == nil {
		cfg = &config.Config{}
	}
	set := func(name string) bool { return flags != nil && flags.Changed(name) }
	str := func(flag, flagVal, env, cfgVal string) string {
		if set(flag) {
			return flagVal
		}
		if v := getenv(env); v != "" {
			return v
		}
		if cfgVal != "" {
			return cfgVal
		}
		return flagVal
	}
	boolean := func(flag string, flagVal bool, env string, cfgVal bool) (bool, error) {
		if set(flag) {
			return flagVal, nil
		}
		if v := getenv(env); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return false, fmt.Errorf("%s: %w", env, err)
			}
			return b, nil
		}
		return cfgVal || flagVal, nil
	}

	s := &settings{
		SymlinkDir:    str("symlink-dir", o.symlinkDir, "PICOPTY_SYMLINK_DIR", cfg.SymlinkDir),
		LinkPrefix:    str("link-prefix", o.linkPrefix, "PICOPTY_LINK_PREFIX", cfg.LinkPrefix),
		TranscriptDir: str("transcript-dir", o.transcriptDir, "PICOPTY_TRANSCRIPT_DIR", cfg.TranscriptDir),
		AdminListen:   str("admin-listen", o.adminListen, "PICOPTY_ADMIN_LISTEN", cfg.Admin.Listen),
		NATS: config.NATS{
			URL:           str("nats-url", o.natsURL, "PICOPTY_NATS_URL", cfg.NATS.URL),
			User:          str("nats-user", o.natsUser, "PICOPTY_NATS_USER", cfg.NATS.User),
			Password:      str("nats-pass", o.natsPass, "PICOPTY_NATS_PASS", cfg.NATS.Password),
			SubjectPrefix: str("nats-subject-prefix", o.natsPrefix, "PICOPTY_NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix),
			Stream:        str("nats-stream", o.natsStream, "PICOPTY_NATS_STREAM", cfg.NATS.Stream),
		},
		Log: config.Log{
			Level: str("log-level", o.logLevel, "PICOPTY_LOG_LEVEL", cfg.Log.Level),
			File:  str("log-file", o.logFile, "PICOPTY_LOG_FILE", cfg.Log.File),
		},
	}
	if o.verbose {
		s.Log.Level = "debug"
	}

	var err error
	if s.RawMode, err = boolean("raw", o.raw, "PICOPTY_RAW", cfg.RawMode); err != nil {
		return nil, err
	}
	if s.Log.JSON, err = boolean("log-json", o.logJSON, "PICOPTY_LOG_JSON", cfg.Log.JSON); err != nil {
		return nil, err
	}

	s.ReadBufferSize = o.readBuffer
	if !set("read-buffer") && cfg.ReadBufferSize > 0 {
		s.ReadBufferSize = cfg.ReadBufferSize
	}
	if s.ReadBufferSize <= 0 {
		return nil, fmt.Errorf("read buffer must be positive, got %d", s.ReadBufferSize)
	}

	switch {
	case set("listen"):
		s.Listen = o.listen
	case set("port"):
		if o.port < 1 || o.port > 65535 {
			return nil, fmt.Errorf("invalid port %d: must be between 1 and 65535", o.port)
		}
		s.Listen = net.JoinHostPort("0.0.0.0", strconv.Itoa(o.port))
	case getenv("PICOPTY_LISTEN") != "":
		s.Listen = getenv("PICOPTY_LISTEN")
	case cfg.Listen != "":
		s.Listen = cfg.Listen
	default:
		s.Listen = net.JoinHostPort("0.0.0.0", strconv.Itoa(server.DefaultPort))
	}
	if err := validateListen(s.Listen); err != nil {
		return nil, err
	}

	for _, p := range []*string{&s.SymlinkDir, &s.TranscriptDir, &s.Log.File} {
		if *p == "" {
			continue
		}
		if *p, err = config.ExpandPath(*p); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(s.LinkPrefix) == "" || strings.ContainsRune(s.LinkPrefix, '/') {
		return nil, fmt.Errorf("invalid link prefix %q", s.LinkPrefix)
	}
	return s, nil
}

func validateListen(addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q: must be between 1 and 65535", portStr)
	}
	return nil
}

func runServe(cmd *cobra.Command, root *rootOptions, o *serveOptions) error {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return err
	}
	s, err := resolveSettings(cmd.Flags(), o, cfg, os.Getenv)
	if err != nil {
		return err
	}

	if o.daemon && !isDaemonChild() {
		pid, err := startDaemon()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "picoptyd running in background (pid %d)\n", pid)
		return nil
	}
	if isDaemonChild() {
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("chdir: %w", err)
		}
	}

	logger, closeLog, err := newLogger(parseLevel(s.Log.Level), s.Log.JSON, s.Log.File, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case sig := <-sigs:
			logger.Info("received signal, cleaning up", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	var notifier events.Notifier = events.Nop{}
	if s.NATS.URL != "" {
		mirror, err := events.Connect(ctx, events.Options{
			URL:           s.NATS.URL,
			User:          s.NATS.User,
			Password:      s.NATS.Password,
			SubjectPrefix: s.NATS.SubjectPrefix,
			Stream:        s.NATS.Stream,
			Logger:        logger,
		})
		if err != nil {
			logger.Warn("lifecycle events disabled", "nats_url", s.NATS.URL, "err", err)
		} else {
			defer mirror.Close()
			notifier = mirror
			logger.Info("lifecycle events enabled", "nats_url", s.NATS.URL)
		}
	}

	srv, err := server.New(server.Config{
		ListenAddr:     s.Listen,
		SymlinkDir:     s.SymlinkDir,
		LinkPrefix:     s.LinkPrefix,
		RawMode:        s.RawMode,
		ReadBufferSize: s.ReadBufferSize,
		TranscriptDir:  s.TranscriptDir,
		Notifier:       notifier,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		logger.Error("start server", "err", err)
		return err
	}

	if s.AdminListen != "" && s.AdminListen != adminOff {
		adm, err := admin.New(admin.Config{ListenAddr: s.AdminListen, Source: srv, Logger: logger})
		if err != nil {
			srv.Stop()
			return err
		}
		if err := adm.Start(ctx); err != nil {
			logger.Error("start admin", "err", err)
			srv.Stop()
			return err
		}
		defer adm.Stop()
	}

	<-srv.Done()
	logger.Info("shutdown complete")
	return nil
}
