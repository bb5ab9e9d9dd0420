// Copyright (C) 2026 The Otter Authors. All rights reserved.

// Command otter-dump prints the contents of a trace archive.
//
//	otter-dump defs trace/otter_trace
//	otter-dump events --location 0 --format table trace/otter_trace
//	otter-dump summary trace/otter_trace
package main

import (
	"os"

	"github.com/otter-trace/otter-go/otter/internal/archive"
	"github.com/otter-trace/otter-go/otter/internal/log"
	"github.com/otter-trace/otter-go/otter/internal/utils"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "otter-dump",
		Short:         "Print the contents of an otter trace archive",
		Long:          `otter-dump decodes a trace archive in any of the bson, msgpack or sqlite formats and prints its definitions, its events or a summary of them.`,
		Version:       utils.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("format", formatJSON, "output format (json|table)")
	root.PersistentFlags().String("log-level", "", "log level (DEBUG|INFO|WARN|ERROR)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		if level == "" {
			return nil
		}
		l, ok := log.ToLogLevel(level)
		if !ok {
			return errors.Errorf("invalid log level %q", level)
		}
		log.SetLevel(l)
		return nil
	}

	root.AddCommand(newDefsCmd(), newEventsCmd(), newSummaryCmd())
	return root
}

// load decodes the archive named by the command's only argument and opens a
// printer on the command's output.
func load(cmd *cobra.Command, args []string) (*archive.Trace, printer, error) {
	tr, err := archive.Read(args[0])
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read archive %s", args[0])
	}
	format, _ := cmd.Flags().GetString("format")
	p, err := newPrinter(cmd.OutOrStdout(), format)
	if err != nil {
		return nil, nil, err
	}
	return tr, p, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
