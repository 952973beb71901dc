package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/antonkrylov/picopty/internal/address"
	"github.com/antonkrylov/picopty/internal/config"
)

// escapeByte is Ctrl-], which ends an attach session.
const escapeByte = 0x1d

func newAttachCmd(root *rootOptions) *cobra.Command {
	var symlinkDir, linkPrefix string
	cmd := &cobra.Command{
		Use:   "attach DEVICE",
		Short: "Open a device's terminal interactively (Ctrl-] to detach)",
		Long: "DEVICE is a device number, resolved under the symlink directory, or a path\n" +
			"to a terminal. Local input is sent raw; press Ctrl-] to detach.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &config.Config{}
			}
			dir := firstNonEmpty(symlinkDir, os.Getenv("PICOPTY_SYMLINK_DIR"), cfg.SymlinkDir, address.DefaultDir)
			prefix := firstNonEmpty(linkPrefix, os.Getenv("PICOPTY_LINK_PREFIX"), cfg.LinkPrefix, address.DefaultPrefix)
			path, err := attachPath(args[0], dir, prefix)
			if err != nil {
				return err
			}
			return attach(cmd, path)
		},
	}
	cmd.Flags().StringVar(&symlinkDir, "symlink-dir", "", "directory device symlinks are published in")
	cmd.Flags().StringVar(&linkPrefix, "link-prefix", "", "symlink name prefix")
	return cmd
}

func attachPath(arg, dir, prefix string) (string, error) {
	if strings.ContainsRune(arg, '/') {
		return arg, nil
	}
	n, err := strconv.Atoi(strings.TrimPrefix(arg, prefix))
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid device %q: expected a device number or a path", arg)
	}
	return address.New(dir, prefix, nil).Path(n), nil
}

func attach(cmd *cobra.Command, path string) error {
	tty, err := os.OpenFile(path, os.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer tty.Close()

	restore, err := makeStdinRaw()
	if err != nil {
		return err
	}
	defer restore()
	fmt.Fprintf(cmd.ErrOrStderr(), "attached to %s, press Ctrl-] to detach\r\n", path)

	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(cmd.OutOrStdout(), tty)
		errc <- err
	}()
	go func() {
		errc <- copyUntilEscape(tty, cmd.InOrStdin())
	}()
	err = <-errc
	fmt.Fprint(cmd.ErrOrStderr(), "\r\ndetached\r\n")
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) {
		return nil
	}
	return err
}

// copyUntilEscape copies src to dst until escapeByte or EOF. Bytes before
// the escape in the same read are still delivered.
func copyUntilEscape(dst io.Writer, src io.Reader) error {
	buf := make([]byte, 4096)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			i := bytes.IndexByte(chunk, escapeByte)
			if i >= 0 {
				chunk = chunk[:i]
			}
			if len(chunk) > 0 {
				if _, werr := dst.Write(chunk); werr != nil {
					return werr
				}
			}
			if i >= 0 {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func makeStdinRaw() (func(), error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, oldState) }, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
