package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/dstotijn/netlog/pkg/export"
	"github.com/dstotijn/netlog/pkg/reqlog"
)

func newExportCommand(cfg *Config) *ffcli.Command {
	var (
		format string
		output string
		filter reqlog.Filter
	)

	fs := flag.NewFlagSet("netlog export", flag.ExitOnError)
	fs.StringVar(&format, "format", string(export.FormatText), "Export format (text or json).")
	fs.StringVar(&output, "o", "", "Output file. Defaults to stdout.")
	fs.StringVar(&filter.Search, "search", "", "Only entries whose URL, method or status code contain this text.")
	fs.StringVar(&filter.Method, "method", "", "Only entries with this method.")
	fs.StringVar(&filter.Host, "host", "", "Only entries for this host.")
	fs.IntVar(&filter.StatusCode, "status", 0, "Only entries with this status code.")
	fs.StringVar(&filter.MediaType, "media", "", "Only entries with this media type (image, video or audio).")
	fs.IntVar(&filter.Limit, "limit", 0, "Maximum number of entries, newest first.")

	return &ffcli.Command{
		Name:       "export",
		ShortUsage: "netlog [global flags] export [flags]",
		ShortHelp:  "Export stored log entries, redacted with the privacy settings.",
		FlagSet:    fs,
		Exec: func(ctx context.Context, _ []string) error {
			svc, closeSvc, err := cfg.openService(ctx)
			if err != nil {
				return err
			}
			defer closeSvc()

			filter.Method = strings.ToUpper(filter.Method)

			var w io.Writer = os.Stdout

			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()

				bw := bufio.NewWriter(f)
				defer bw.Flush()

				w = bw
			}

			return svc.Export(w, export.Format(format), filter)
		},
	}
}

func newClearCommand(cfg *Config) *ffcli.Command {
	return &ffcli.Command{
		Name:       "clear",
		ShortUsage: "netlog [global flags] clear",
		ShortHelp:  "Delete all stored log entries.",
		Exec: func(ctx context.Context, _ []string) error {
			svc, closeSvc, err := cfg.openService(ctx)
			if err != nil {
				return err
			}
			defer closeSvc()

			if err := svc.ClearLogs(ctx); err != nil {
				return err
			}

			cfg.logger.Sugar().Infow("Cleared log entries.")

			return nil
		},
	}
}
