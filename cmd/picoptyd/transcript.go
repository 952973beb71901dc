package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/picopty/internal/transcript"
)

func newTranscriptCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "transcript FILE",
		Short: "Print a recorded device transcript",
		Long: "Each record is printed on its own line, prefixed with '>' for bytes the\n" +
			"terminal side sent to the device and '<' for lines the device sent back.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTranscriptFile(cmd.OutOrStdout(), args[0], raw)
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "write payloads unquoted, without direction markers")
	return cmd
}

func printTranscriptFile(w io.Writer, path string, raw bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return printTranscript(w, f, raw)
}

func printTranscript(w io.Writer, r io.Reader, raw bool) error {
	tr, err := transcript.NewReader(r)
	if err != nil {
		return err
	}
	defer tr.Close()
	for {
		rec, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if raw {
			if _, err := w.Write(rec.Data); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%c %s\n", byte(rec.Direction), strconv.Quote(string(rec.Data))); err != nil {
			return err
		}
	}
}
