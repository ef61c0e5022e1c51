package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sync"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maxpoletaev/nacosclient/client"
	"github.com/maxpoletaev/nacosclient/internal/confloader"
	"github.com/maxpoletaev/nacosclient/nacoserr"
)

type shutdownFunc func(ctx context.Context) error

var noopShutdown = func(ctx context.Context) error { return nil }

func setupLogger() (kitlog.Logger, shutdownFunc) {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)

	if !opts.Verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	return logger, noopShutdown
}

// loadEnvFile loads a dotenv file into the environment. A missing file is not
// an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}

	return nil
}

func loadConfig(logger kitlog.Logger, reg prometheus.Registerer) (client.Config, error) {
	loader := confloader.NewLoader(
		confloader.WithConfigFile(opts.ConfigFile),
		confloader.WithLogger(logger),
	)

	conf := client.DefaultConfig()

	if err := loader.Load(&conf); err != nil {
		return conf, err
	}

	if err := loader.LoadMap(overrides()); err != nil {
		return conf, err
	}

	if err := loader.Unmarshal(&conf); err != nil {
		return conf, fmt.Errorf("failed to apply flags: %w", err)
	}

	conf.Remote = loader.RemoteOptions(conf.Remote)
	conf.Logger = logger
	conf.Registerer = reg

	return conf, nil
}

func setupMetricsServer(wg *sync.WaitGroup, reg *prometheus.Registry, logger kitlog.Logger) shutdownFunc {
	if opts.MetricsAddr == "" {
		return noopShutdown
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:    opts.MetricsAddr,
		Handler: mux,
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(logger).Log("msg", "metrics server failed", "addr", opts.MetricsAddr, "err", err)
		}
	}()

	return func(ctx context.Context) error {
		logger.Log("msg", "shutting down metrics server")

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown metrics server: %w", err)
		}

		return nil
	}
}

func setupClient(ctx context.Context, conf client.Config, logger kitlog.Logger) (*client.Client, shutdownFunc, error) {
	c, err := client.New(conf)
	if err != nil {
		return nil, nil, err
	}

	c.AddConnectionListener(connectionLogger(logger))

	if err := c.Start(ctx); err != nil {
		return nil, nil, err
	}

	group := opts.Listen.Group

	for _, dataID := range parseList(opts.Listen.DataIDs) {
		if _, err := c.AddListener(dataID, group, changeLogger(logger)); err != nil {
			_ = c.Close()
			return nil, nil, err
		}

		level.Info(logger).Log("msg", "listening", "data_id", dataID, "group", group)
	}

	shutdown := func(ctx context.Context) error {
		logger.Log("msg", "closing client")
		return c.Close()
	}

	return c, shutdown, nil
}

// logError logs timeouts as warnings and everything else as errors.
func logError(logger kitlog.Logger, msg string, err error) {
	if nacoserr.IsTimeout(err) {
		level.Warn(logger).Log("msg", msg, "err", err)
		return
	}

	level.Error(logger).Log("msg", msg, "err", err)
}
