package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/dstotijn/netlog/pkg/sender"
)

type headerFlags map[string]string

func (h headerFlags) String() string {
	return fmt.Sprint(map[string]string(h))
}

func (h headerFlags) Set(v string) error {
	key, value, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("invalid header %q, expected `Key: Value`", v)
	}

	h[strings.TrimSpace(key)] = strings.TrimSpace(value)

	return nil
}

func newSendCommand(cfg *Config) *ffcli.Command {
	var (
		method  string
		body    string
		resend  string
		headers = headerFlags{}
	)

	fs := flag.NewFlagSet("netlog send", flag.ExitOnError)
	fs.StringVar(&method, "X", "GET", "Request method.")
	fs.StringVar(&body, "d", "", "Request body.")
	fs.StringVar(&resend, "resend", "", "ID of a stored log entry to send again.")
	fs.Var(headers, "H", "Request header (`Key: Value`), can be repeated.")

	return &ffcli.Command{
		Name:       "send",
		ShortUsage: "netlog [global flags] send [flags] <url>",
		ShortHelp:  "Send a request through the interceptor and record it.",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			if resend == "" && len(args) != 1 {
				return flag.ErrHelp
			}

			svc, closeSvc, err := cfg.openService(ctx)
			if err != nil {
				return err
			}
			defer closeSvc()

			svc.Register()

			senderSvc := sender.NewService(sender.Config{
				Store:      svc.Store(),
				HTTPClient: svc.Client(),
				Logger:     cfg.logger.Named("sender").Sugar(),
			})

			var res *sender.Response

			if resend != "" {
				res, err = senderSvc.ResendLogEntry(ctx, resend)
			} else {
				req := sender.Request{
					Method:  method,
					URL:     args[0],
					Headers: headers,
				}
				if body != "" {
					req.Body = []byte(body)
				}

				res, err = senderSvc.SendRequest(ctx, req)
			}

			// The failed exchange is recorded as well; flush it before returning.
			if flushErr := svc.Flush(ctx); flushErr != nil {
				return flushErr
			}

			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "%d (%v)\n", res.StatusCode, res.Duration)
			os.Stdout.Write(res.Body)

			return nil
		},
	}
}
