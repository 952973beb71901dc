package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/antonkrylov/picopty/internal/registry"
)

func newDevicesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List devices known to a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, conn, ctx, cancel, err := root.dialAdmin(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer conn.Close()

			list, err := c.ListDevices(ctx)
			if err != nil {
				return err
			}
			return printDevices(cmd.OutOrStdout(), list)
		},
	}
}

func printDevices(w io.Writer, list []registry.Info) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tSERIAL\tLINK\tPTY\tCONNECTED\tREMOTE\tQUEUED\tCREATED")
	for _, d := range list {
		created := "<unknown>"
		if !d.CreatedAt.IsZero() {
			created = d.CreatedAt.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\t%d\t%s\n",
			d.Number, d.Serial, orDash(d.Link), orDash(d.PTYPath), d.Connected, orDash(d.Remote), d.QueuedWrites, created)
	}
	return tw.Flush()
}

func newDisconnectCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect SERIAL",
		Short: "Tear down a device as if its client had disconnected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, conn, ctx, cancel, err := root.dialAdmin(cmd.Context())
			if err != nil {
				return err
			}
			defer cancel()
			defer conn.Close()

			if err := c.Disconnect(ctx, args[0]); err != nil {
				if status.Code(err) == codes.NotFound {
					return fmt.Errorf("no device with serial %q", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "disconnected %s\n", args[0])
			return nil
		},
	}
}
