package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"golang.org/x/sync/errgroup"

	"github.com/dstotijn/netlog/pkg/api"
	"github.com/dstotijn/netlog/pkg/proxy"
)

type serveConfig struct {
	addr          string
	proxyAddr     string
	noIntercept   bool
	noPersistence bool
}

func newServeCommand(cfg *Config) *ffcli.Command {
	serveCfg := &serveConfig{}

	fs := flag.NewFlagSet("netlog serve", flag.ExitOnError)
	fs.StringVar(&serveCfg.addr, "addr", ":8090", "API server listen address.")
	fs.StringVar(&serveCfg.proxyAddr, "proxy-addr", ":8080", "Forward proxy listen address. Empty disables the proxy.")
	fs.BoolVar(&serveCfg.noIntercept, "no-intercept", false, "Start with interception disabled.")
	fs.BoolVar(&serveCfg.noPersistence, "no-persistence", false, "Start with persistence disabled.")

	return &ffcli.Command{
		Name:       "serve",
		ShortUsage: "netlog [global flags] serve [flags]",
		ShortHelp:  "Run the inspection API and the recording forward proxy.",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix("NETLOG")},
		Exec: func(ctx context.Context, _ []string) error {
			return cfg.serve(ctx, serveCfg)
		},
	}
}

func (cfg *Config) serve(ctx context.Context, serveCfg *serveConfig) error {
	mainLogger := cfg.logger.Sugar()

	svc, closeSvc, err := cfg.openService(ctx)
	if err != nil {
		return err
	}
	defer closeSvc()

	svc.SetPersistenceEnabled(!serveCfg.noPersistence)

	if !serveCfg.noIntercept {
		svc.Register()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers := []*http.Server{
		{
			Addr: serveCfg.addr,
			Handler: api.NewRouter(api.Config{
				Service:  svc,
				Logger:   cfg.logger.Named("api").Sugar(),
				Gatherer: cfg.registry,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	if serveCfg.proxyAddr != "" {
		servers = append(servers, &http.Server{
			Addr: serveCfg.proxyAddr,
			Handler: proxy.NewProxy(proxy.Config{
				Transport: svc.Transport(),
				Logger:    cfg.logger.Named("proxy").Sugar(),
			}),
			ReadHeaderTimeout: 10 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			mainLogger.Infow("Server listening.", "addr", srv.Addr)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	mainLogger.Infow("Shut down.")

	return nil
}
