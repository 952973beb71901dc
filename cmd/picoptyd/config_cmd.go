package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/antonkrylov/picopty/internal/address"
	"github.com/antonkrylov/picopty/internal/admin"
	"github.com/antonkrylov/picopty/internal/config"
	"github.com/antonkrylov/picopty/internal/relay"
	"github.com/antonkrylov/picopty/internal/server"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the config file",
	}
	cmd.AddCommand(newConfigInitCmd(root))
	cmd.AddCommand(newConfigViewCmd(root))
	return cmd
}

func defaultConfig() *config.Config {
	return &config.Config{
		Listen:         fmt.Sprintf("0.0.0.0:%d", server.DefaultPort),
		SymlinkDir:     address.DefaultDir,
		LinkPrefix:     address.DefaultPrefix,
		ReadBufferSize: relay.DefaultReadSize,
		Admin:          config.Admin{Listen: admin.DefaultListenAddr},
		Log:            config.Log{Level: "info"},
	}
}

func newConfigInitCmd(root *rootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file populated with defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := config.ExpandPath(root.configPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := defaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigViewCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the effective daemon settings (config file, environment, defaults)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			defaults := &serveOptions{}
			defaults.bindFlags(&cobra.Command{})
			s, err := resolveSettings(nil, defaults, cfg, os.Getenv)
			if err != nil {
				return err
			}
			if s.NATS.Password != "" {
				s.NATS.Password = "********"
			}
			out := config.Config{
				Listen:         s.Listen,
				SymlinkDir:     s.SymlinkDir,
				LinkPrefix:     s.LinkPrefix,
				RawMode:        s.RawMode,
				ReadBufferSize: s.ReadBufferSize,
				TranscriptDir:  s.TranscriptDir,
				Admin:          config.Admin{Listen: s.AdminListen},
				Log:            s.Log,
				NATS:           s.NATS,
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
