package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/antonkrylov/picopty/internal/admin"
	"github.com/antonkrylov/picopty/internal/client"
	"github.com/antonkrylov/picopty/internal/config"
)

var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

type rootOptions struct {
	configPath string
	adminAddr  string
	timeout    time.Duration
}

// dialAdmin resolves the admin endpoint and connects to it. The returned
// context carries the resolved timeout.
func (r *rootOptions) dialAdmin(ctx context.Context) (*admin.Client, *grpc.ClientConn, context.Context, context.CancelFunc, error) {
	resolved, err := client.ResolveConnection(r.configPath, r.adminAddr, r.timeout)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, resolved.Timeout)
	c, conn, err := client.DialAdmin(ctx, resolved.AdminAddr)
	if err != nil {
		cancel()
		return nil, nil, nil, nil, fmt.Errorf("dial admin %s: %w", resolved.AdminAddr, err)
	}
	return c, conn, ctx, cancel, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	serve := &serveOptions{}

	rootCmd := &cobra.Command{
		Use:   "picoptyd",
		Short: "Expose TCP-connected Pico devices as local pseudo-terminals",
		Long: "picoptyd accepts device connections, binds each identified device to a PTY\n" +
			"published as <symlink-dir>/<prefix><N>, and relays bytes both ways.",
		Version:      versionString(),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts, serve)
		},
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		cmd.PrintErrln(cmd.UsageString())
		return err
	})

	defaultConfig := os.Getenv("PICOPTY_CONFIG")
	if defaultConfig == "" {
		defaultConfig = config.DefaultConfigPath()
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfig, "path to config file (default $HOME/.picopty/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.adminAddr, "admin-addr", "", "admin gRPC endpoint for client commands (overrides config)")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "client timeout; defaults to 10s")

	serve.bindFlags(rootCmd)

	rootCmd.AddCommand(newDevicesCmd(opts))
	rootCmd.AddCommand(newDisconnectCmd(opts))
	rootCmd.AddCommand(newAttachCmd(opts))
	rootCmd.AddCommand(newWatchCmd(opts))
	rootCmd.AddCommand(newTranscriptCmd())
	rootCmd.AddCommand(newConfigCmd(opts))
	return rootCmd
}

func versionString() string {
	v := version
	if commit != "" {
		v += " (" + commit + ")"
	}
	if buildTime != "" {
		v += " built " + buildTime
	}
	return v
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
