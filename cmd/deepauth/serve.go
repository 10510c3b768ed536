package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanpama/deepauth/internal/config"
	"github.com/hanpama/deepauth/internal/eventbus"
	"github.com/hanpama/deepauth/internal/metrics"
	"github.com/hanpama/deepauth/internal/otel"
	"github.com/hanpama/deepauth/internal/server"
)

// serveConfig merges the optional config file with the command line.
// Flags that were set explicitly win over file values.
func serveConfig(args []string) (*config.Config, error) {
	cfgFile := ""
	var globs, cors stringListFlag
	var params pairFlag
	var (
		listen, logLevel, logFormat string
		otelEndpoint, otelService   string
		timeout                     time.Duration
		maxBody                     int64
		pretty                      bool
	)

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&cfgFile, "config", "", "YAML configuration file")
	fs.Var(&globs, "schema", "SDL file or glob")
	fs.StringVar(&listen, "listen", config.DefaultListen, "HTTP listen address")
	fs.Var(&params, "param", "Map a request header to a deepAuth param")
	fs.StringVar(&logLevel, "log.level", config.DefaultLogLevel, "Log level")
	fs.StringVar(&logFormat, "log.format", config.DefaultLogFormat, "Log format")
	fs.DurationVar(&timeout, "server.timeout", config.DefaultTimeout, "Per-request timeout")
	fs.Int64Var(&maxBody, "server.max-body-bytes", config.DefaultMaxBodyBytes, "Request body limit")
	fs.BoolVar(&pretty, "server.pretty", false, "Pretty-print JSON responses")
	fs.Var(&cors, "server.cors", "Allowed CORS origin")
	fs.StringVar(&otelEndpoint, "otel.endpoint", "", "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", config.DefaultService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &config.Config{}
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	override := func(name string, apply func()) {
		if set[name] || cfgFile == "" {
			apply()
		}
	}
	if len(globs) > 0 {
		cfg.Schema = config.StringList(globs)
	}
	if len(params.keys) > 0 {
		cfg.Params = params.m
	}
	if len(cors) > 0 {
		cfg.Server.CORS = cors
	}
	override("listen", func() { cfg.Listen = listen })
	override("log.level", func() { cfg.Logging.Level = logLevel })
	override("log.format", func() { cfg.Logging.Format = logFormat })
	override("server.timeout", func() { cfg.Server.Timeout = config.Duration(timeout) })
	override("server.max-body-bytes", func() { cfg.Server.MaxBodyBytes = maxBody })
	override("server.pretty", func() { cfg.Server.Pretty = pretty })
	override("otel.endpoint", func() { cfg.Tracing.Endpoint = otelEndpoint })
	override("otel.service", func() { cfg.Tracing.Service = otelService })

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *cli) serve(args []string) error {
	cfg, err := serveConfig(args)
	if err != nil {
		fmt.Fprint(c.stderr, serveUsage)
		return err
	}
	logger := setupLogger(c.stderr, cfg.Logging.Level, cfg.Logging.Format)

	files, err := cfg.SchemaFiles()
	if err != nil {
		return err
	}
	sch, _, err := loadSchema(files)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	registry := metrics.NewRegistry()
	detach := registry.Attach(eventbus.Default())
	defer detach()

	shutdownTracing, err := otel.Setup(cfg.Tracing.Endpoint, cfg.Tracing.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	sopts := []server.Option{
		server.WithLogger(logger),
		server.WithTimeout(time.Duration(cfg.Server.Timeout)),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithParamHeaders(cfg.Params),
	}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if len(cfg.Server.CORS) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORS...))
	}
	h, err := server.New(sch, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           h.Mux(registry.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() {
		logger.Info("deepauth listening", "addr", cfg.Listen, "schema_files", len(files))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
