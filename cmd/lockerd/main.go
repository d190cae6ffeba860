// Command lockerd runs a single node of a locker cluster: its Node
// State Engine, HTTP transport, expiration services and replication
// pump, wired from a YAML config file the way the teacher's demo
// harness wires an Agent from flags.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/bycanvas/locker/internal/config"
	"github.com/bycanvas/locker/internal/engine"
	"github.com/bycanvas/locker/internal/expiry"
	"github.com/bycanvas/locker/internal/lease"
	"github.com/bycanvas/locker/internal/logging"
	"github.com/bycanvas/locker/internal/membership"
	"github.com/bycanvas/locker/internal/metrics"
	"github.com/bycanvas/locker/internal/replication"
	"github.com/bycanvas/locker/internal/transport"
)

func main() {
	app := &cli.App{
		Name:  "lockerd",
		Usage: "run one node of a locker cluster",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the node's YAML configuration",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "panic|fatal|error|warn|info|debug|trace",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return err
	}
	logging.SetLevel(level)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	log := logging.For("lockerd", string(cfg.Self))

	cfgStore := membership.New(lease.Configuration{W: cfg.W, Masters: cfg.Masters, Replicas: cfg.Replicas})
	e := engine.New(cfg.Self, cfgStore)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg, string(cfg.Self))

	tr := transport.NewHTTPTransport()
	handler := &transport.Handler{Engine: e}
	router := transport.NewServer(handler)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeps := expiry.New(e, cfg.LeaseExpireInterval(), cfg.LockExpireInterval())
	go sweeps.Run(ctx)

	pump := replication.New(cfg.Self, e, cfgStore, tr, m, cfg.PushTransInterval())
	go pump.Run(ctx)

	srv := &http.Server{Addr: cfg.Listen, Handler: router}
	go func() {
		log.WithField("addr", cfg.Listen).Info("lockerd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("lockerd: listener failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("lockerd shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ClientTimeout())
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
