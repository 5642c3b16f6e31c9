package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jkbrsn/dash"
	"github.com/jkbrsn/dash/pkg/hostinfo"
	"github.com/jkbrsn/dash/pkg/promsink"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("dash failed")
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = pflag.String("config", "", "path to a YAML config file")
		app         = pflag.String("app", "", "application token")
		endpoints   = pflag.String("endpoints", "", "comma separated destination URIs")
		interval    = pflag.Duration("interval", 0, "reporting interval")
		ping        = pflag.Bool("ping", false, "send a single ping and exit")
		logLevel    = pflag.String("log-level", "info", "log level")
		metricsAddr = pflag.String("metrics-addr", "", "address to serve Prometheus metrics on")
	)
	pflag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := dash.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}
	if *app != "" {
		cfg.App = *app
	}
	if *endpoints != "" {
		parsed, err := dash.ParseEndpoints(*endpoints)
		if err != nil {
			return err
		}
		cfg.Endpoints = cfg.Endpoints[:0]
		for _, ep := range parsed {
			cfg.Endpoints = append(cfg.Endpoints, ep.String())
		}
	}
	if *interval != 0 {
		cfg.Interval = *interval
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	eps, err := cfg.ParsedEndpoints()
	if err != nil {
		return err
	}

	var sink dash.DeliverySink = nopSink{}
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		sink = promsink.New(reg)
		go serveMetrics(*metricsAddr, reg)
	}

	httpOpts := []dash.HTTPStoreOption{
		dash.WithTimeouts(cfg.Timeouts()),
		dash.WithHTTPSink(sink),
	}
	if cfg.SkipTLSVerify {
		httpOpts = append(httpOpts, dash.WithSkipTLSVerify())
	}
	var routerOpts []dash.RouterOption
	if cfg.FileFirst {
		routerOpts = append(routerOpts, dash.WithFileFirst())
	}
	router := dash.NewRouter(
		dash.NewHTTPStore(cfg.App, httpOpts...),
		dash.NewFileStore(dash.WithFileSink(sink)),
		routerOpts...,
	)

	host := hostinfo.Collect()
	session := dash.NewMemorySession(map[string]any{
		"app":      cfg.App,
		"hostname": host.Hostname(),
		"pid":      os.Getpid(),
	})
	reporter := dash.NewReporter(session, router,
		dash.WithInterval(cfg.Interval),
		dash.WithEndpoints(eps),
		dash.WithHostInfo(host),
		dash.WithSink(sink),
		dash.WithFakeHostCount(cfg.FakeHostCount),
	)

	if *ping {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if !reporter.Ping(ctx) {
			return errors.New("ping was not accepted by any endpoint")
		}
		log.Info().Msg("Ping accepted")
		return nil
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		reporter.Stop()
	}()

	reporter.Start(false)
	return reporter.Fault()
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
	}
}

type nopSink struct{}

func (nopSink) ObserveDelivery(dash.DeliveryMetrics) {}
func (nopSink) ObserveEvent(string, map[string]any) {}
