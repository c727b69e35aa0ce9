/*
Runs one of the clustermq example topologies in a single process.

	$ clustermq-demo -topology broker
	$ clustermq-demo -config demo.yaml -metrics :9100
	$ CLUSTERMQ_TOPOLOGY=pipeline clustermq-demo

Roles that finish on their own (clients, subscribers, the sink) end the demo; servers, publishers
and workers are stopped afterwards. -duration or Ctrl-C stop it earlier.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fogfish/opts"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dermesser/clustermq"
	"github.com/dermesser/clustermq/config"
	"github.com/dermesser/clustermq/log"
)

func main() {
	var (
		configFile = flag.String("config", "", "YAML configuration file")
		envFile    = flag.String("env", "", "additional .env file")
		topo       = flag.String("topology", "", "hello, pubsub, pipeline, broker, multi-reader or multi-poller")
		metrics    = flag.String("metrics", "", "serve prometheus metrics on this address")
		duration   = flag.Duration("duration", 0, "stop after this long")
		zmqWorkers = flag.Int("zmq-workers", 0, "broker: additional libzmq REP workers behind a bridge")
	)
	flag.Parse()

	if err := run(*configFile, *envFile, *topo, *metrics, *duration, *zmqWorkers); err != nil {
		fmt.Fprintln(os.Stderr, "clustermq-demo:", err)
		os.Exit(1)
	}
}

func run(configFile, envFile, topo, metricsAddr string, duration time.Duration, zmqWorkers int) error {
	if envFile != "" {
		if err := config.LoadDotenv(envFile); err != nil {
			return err
		}
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if topo != "" {
		cfg.Topology = topo
	}
	if metricsAddr != "" {
		cfg.Metrics = metricsAddr
	}
	if duration > 0 {
		cfg.Duration = duration
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ll, _ := config.ParseLoglevel(cfg.LogLevel)
	log.SetLogger(zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}).With().Timestamp().Logger())
	log.SetLoglevel(ll)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	var options []opts.Option[clustermq.Context]
	if cfg.Metrics != "" {
		reg := prometheus.NewRegistry()
		options = append(options, clustermq.WithMetrics(reg))
		srv := serveMetrics(cfg.Metrics, reg)
		defer srv.Close()
	}

	mq, err := clustermq.NewContext(options...)
	if err != nil {
		return err
	}
	defer mq.Term()

	d := &demo{cfg: cfg, mq: mq, zmqWorkers: zmqWorkers}
	err = d.run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Event(log.LOGLEVEL_ERRORS).Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Event(log.LOGLEVEL_INFO).Str("addr", addr).Msg("serving metrics")
	return srv
}

// Runs background roles (servers, workers) until the foreground roles (clients) are done.
type group struct {
	fg, bg       *errgroup.Group
	fgCtx, bgCtx context.Context
	stopBg       context.CancelFunc
}

func newGroup(ctx context.Context) *group {
	g := new(group)
	g.fg, g.fgCtx = errgroup.WithContext(ctx)
	var bgCtx context.Context
	bgCtx, g.stopBg = context.WithCancel(ctx)
	g.bg, g.bgCtx = errgroup.WithContext(bgCtx)
	return g
}

func (g *group) background(f func(context.Context) error) {
	g.bg.Go(func() error { return f(g.bgCtx) })
}

func (g *group) foreground(f func(context.Context) error) {
	g.fg.Go(func() error { return f(g.fgCtx) })
}

// Waits for the foreground; with no foreground role, runs until ctx ends.
func (g *group) wait(ctx context.Context, hasForeground bool) error {
	var err error
	if hasForeground {
		err = g.fg.Wait()
	} else {
		<-ctx.Done()
	}
	g.stopBg()
	bgErr := g.bg.Wait()
	if errors.Is(bgErr, context.Canceled) {
		// stopped while still starting up
		bgErr = nil
	}
	if err == nil {
		err = bgErr
	}
	return err
}
