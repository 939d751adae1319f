package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/bmsmon/internal/api"
	"codeberg.org/mutker/bmsmon/internal/config"
	"codeberg.org/mutker/bmsmon/internal/errors"
	"codeberg.org/mutker/bmsmon/internal/exporter"
	"codeberg.org/mutker/bmsmon/internal/history"
	"codeberg.org/mutker/bmsmon/internal/logger"
	"codeberg.org/mutker/bmsmon/internal/pid"
	"codeberg.org/mutker/bmsmon/internal/refresh"
	"codeberg.org/mutker/bmsmon/internal/session"
	"codeberg.org/mutker/bmsmon/internal/simulator"
	"codeberg.org/mutker/bmsmon/internal/telemetry"
	"github.com/spf13/pflag"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

var (
	cfg      *config.Config
	pidFile  *pid.File
	recorder history.Collector
)

func init() {
	var err error
	cfg, err = config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(cfg.LogLevel)
	logger.Init(logger.Options{
		Level:     level,
		IsService: logger.IsService(),
		File:      cfg.LogFile,
	})
	logger.Debug().Str("config_file", cfg.ConfigFile).Msg("Config loaded")
}

func main() {
	pidFile = pid.New("")
	if err := pidFile.Write(); err != nil {
		logError(err, "Failed to write PID file")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	err := run(ctx)
	cancel()
	cleanup()

	if err != nil {
		logError(err, "Monitor failed")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	errFactory := errors.New()
	log := logger.Default()

	var err error
	recorder, err = history.NewService(history.Config{
		Enabled:      cfg.History.Enabled,
		DBPath:       cfg.History.DBPath,
		BatchSize:    cfg.History.BatchSize,
		BatchTimeout: cfg.History.BatchTimeout,
	}, log.With("history"))
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	source, err := newSource()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitApp, err)
	}

	metrics := exporter.New()
	store := telemetry.NewStore()

	gate := refresh.NewGate(store,
		refresh.Subscribers{metrics, refresh.LogSubscriber{Log: log.With("monitor")}},
		refresh.WithCadence(cfg.RefreshInterval),
	)
	go gate.Run(ctx)

	ctrl := session.New(source, store,
		session.WithInterval(cfg.Interval),
		session.WithFetchTimeout(cfg.FetchTimeout),
		session.WithCellInterval(cfg.CellInterval),
		session.WithWaitForData(cfg.WaitForData),
		session.WithRecorder(recorder),
		session.WithObserver(observer{Exporter: metrics, gate: gate}),
	)

	var serverErr chan error
	var server *http.Server
	if cfg.Listen != "" {
		opts := []api.Option{api.WithMetrics(metrics.Handler())}
		if cfg.History.Enabled {
			opts = append(opts, api.WithHistory(recorder))
		}

		server = &http.Server{
			Addr:              cfg.Listen,
			Handler:           api.New(ctrl, store, opts...).Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		serverErr = make(chan error, 1)
		go func() {
			log.Info().Str("listen", cfg.Listen).Msg("HTTP server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- errFactory.Wrap(errors.ErrServeHTTP, err)
			}
		}()
	}

	if cfg.Autostart {
		if err := ctrl.Start(ctx); err != nil {
			// The session can still be started over HTTP later.
			log.Error().Err(err).Msg("Failed to start monitoring session")
		}
	}

	logger.Info().
		Str("source", cfg.Source).
		Str("device", cfg.Device.Name).
		Str("address", cfg.Device.Address).
		Bool("autostart", cfg.Autostart).
		Msg("Battery monitor running")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
	}
	if err := ctrl.Stop(shutdownCtx); err != nil {
		return errFactory.Wrap(errors.ErrShutdownFailed, err)
	}

	return runErr
}

// observer feeds poll outcomes to the exporter and re-announces every field
// when a new session starts.
type observer struct {
	*exporter.Exporter
	gate *refresh.Gate
}

func (o observer) SessionStateChanged(st session.State) {
	o.Exporter.SessionStateChanged(st)
	if st == session.Running {
		o.gate.Reset()
	}
}

func newSource() (telemetry.Source, error) {
	switch cfg.Source {
	case config.SourceSimulator:
		src, err := simulator.New(simulator.Config{
			FailureRate: cfg.Simulator.FailureRate,
			Cells:       cfg.Simulator.Cells,
			Seed:        cfg.Simulator.Seed,
			Name:        cfg.Device.Name,
			Address:     cfg.Device.Address,
		}, logger.Default())
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, errors.New().WithData(errors.ErrInvalidSource, cfg.Source)
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal")
	cancel()
}

func cleanup() {
	if recorder != nil {
		if err := recorder.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close history")
		}
	}
	if err := pidFile.Remove(); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}

func logError(err error, msg string) {
	var appErr errors.Error
	if errors.As(err, &appErr) {
		logger.ErrorWithCode(appErr).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}
