package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/maxpoletaev/nacosclient/client"
	"github.com/maxpoletaev/nacosclient/listener"
)

func changeLogger(logger kitlog.Logger) listener.Func[client.ChangeEvent] {
	return func(e client.ChangeEvent) {
		level.Info(logger).Log(
			"msg", "config changed",
			"data_id", e.Key.DataID,
			"group", e.Key.Group,
			"type", e.ConfigType,
			"size", len(e.Content),
			"changes", len(e.Changes),
		)

		keys := maps.Keys(e.Changes)
		slices.Sort(keys)

		for _, k := range keys {
			item := e.Changes[k]

			level.Debug(logger).Log(
				"msg", "config key changed",
				"data_id", e.Key.DataID,
				"key", k,
				"change", item.Type,
				"old", item.OldValue,
				"new", item.NewValue,
			)
		}
	}
}

func connectionLogger(logger kitlog.Logger) listener.Func[client.ConnectionEvent] {
	return func(e client.ConnectionEvent) {
		if e.Connected {
			level.Info(logger).Log("msg", "connected", "server", e.Server, "conn_id", e.ConnID)
		} else {
			level.Warn(logger).Log("msg", "disconnected", "server", e.Server, "conn_id", e.ConnID)
		}
	}
}

func main() {
	envErr := loadEnvFile(envFileArg(os.Args[1:]))

	if _, err := newParser().Parse(); err != nil {
		if ferr, ok := err.(*flags.Error); !ok || ferr.Type != flags.ErrHelp {
			fmt.Println("cli error:", err)
		}

		os.Exit(2)
	}

	appctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wg := sync.WaitGroup{}
	reg := prometheus.NewRegistry()

	logger, closeLogger := setupLogger()

	if envErr != nil {
		level.Warn(logger).Log("msg", "env file not loaded", "err", envErr)
	}

	conf, err := loadConfig(logger, reg)
	if err != nil {
		level.Error(logger).Log("msg", "failed to load config", "err", err)
		os.Exit(1)
	}

	closeMetrics := setupMetricsServer(&wg, reg, logger)

	startCtx, cancelStart := context.WithTimeout(appctx, 30*time.Second)
	_, closeClient, err := setupClient(startCtx, conf, logger)

	cancelStart()

	if err != nil {
		logError(logger, "failed to start client", err)

		_ = closeMetrics(context.Background())

		os.Exit(1)
	}

	// Components must be shut down in a particular order.
	shutdownOrder := []shutdownFunc{
		closeClient,
		closeMetrics,
		closeLogger,
	}

	<-appctx.Done()
	level.Info(logger).Log("msg", "received interrupt signal, shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	for _, f := range shutdownOrder {
		if err := f(shutdownCtx); err != nil {
			logError(logger, "failed to shutdown component", err)
		}
	}

	wg.Wait()
}
