package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/detectnode/cmd"
	"github.com/smazurov/detectnode/internal/api"
	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/logging"
	"github.com/smazurov/detectnode/internal/metrics"
	"github.com/smazurov/detectnode/internal/metrics/exporters"
	"github.com/smazurov/detectnode/internal/process"
	"github.com/smazurov/detectnode/internal/systemd"
	"github.com/smazurov/detectnode/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port          string `help:"Port to listen on" short:"p" default:":3000" toml:"server.port" env:"SERVER_PORT"`
	ShutdownDelay string `help:"Delay before exiting after an admin stop" default:"1s" toml:"server.shutdown_delay" env:"SERVER_SHUTDOWN_DELAY"`

	// Worker settings
	WorkersFile string `help:"Worker definitions file" default:"workers.toml" toml:"workers.config_file" env:"WORKERS_CONFIG_FILE"`

	// Metrics settings
	MetricsPrometheusEnabled bool   `help:"Serve Prometheus metrics on /metrics" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	MetricsSSEInterval       string `help:"Worker stats publish interval" default:"5s" toml:"metrics.sse_interval" env:"METRICS_SSE_INTERVAL"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP     string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
	LoggingProcess  string `help:"Worker supervision logging level" default:"info" toml:"logging.process" env:"LOGGING_PROCESS"`
	LoggingWorker   string `help:"Worker output logging level" default:"info" toml:"logging.worker" env:"LOGGING_WORKER"`
	LoggingPipeline string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingRelay    string `help:"Relay logging level" default:"info" toml:"logging.relay" env:"LOGGING_RELAY"`
	LoggingConfig   string `help:"Config logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func main() {
	var cli humacli.CLI

	// Create Huma CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"api":      opts.LoggingAPI,
				"http":     opts.LoggingHTTP,
				"process":  opts.LoggingProcess,
				"worker":   opts.LoggingWorker,
				"pipeline": opts.LoggingPipeline,
				"relay":    opts.LoggingRelay,
				"config":   opts.LoggingConfig,
			},
		})

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		// Publish log entries for /api/logs/stream
		var logSeq atomic.Uint64
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        logSeq.Add(1),
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		registry := process.NewRegistry(&process.RegistryOptions{
			OnStateChange: func(info process.Info, old process.State) {
				switch info.State {
				case process.StateRunning:
					metrics.WorkerSpawned(info.Name)
				case process.StateExited:
					metrics.WorkerExited(info.Name, metrics.ExitOutcome(info.ExitCode, info.Signal), old != process.StateStarting)
				}
				eventBus.Publish(events.SessionStateChangedEvent{
					SessionID: info.ID,
					Name:      info.Name,
					State:     string(info.State),
					PID:       info.PID,
					ExitCode:  info.ExitCode,
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				})
			},
		})

		// Worker definitions, reloaded on change
		workers := config.NewConfigWatcher(opts.WorkersFile, config.LoadWorkers, logging.GetLogger("config"),
			config.WithErrorHandler[config.Workers](func(err error) {
				logger.Warn("Keeping previous worker definitions", "error", err)
			}))
		if _, loadErr := workers.Load(); loadErr != nil {
			logger.Warn("Invalid worker definitions, using defaults", "file", opts.WorkersFile, "error", loadErr)
		}
		workers.OnReload(func(w config.Workers) {
			logger.Info("Worker definitions reloaded", "stages", len(w.Stages))
		})
		currentWorkers := func() config.Workers {
			if w := workers.Current(); len(w.Stages) > 0 {
				return w
			}
			return config.DefaultWorkers()
		}

		notifier := systemd.NewNotifier(logger)
		exitCh := make(chan struct{}, 1)

		apiOpts := &api.Options{
			AuthUsername:  opts.AuthUsername,
			AuthPassword:  opts.AuthPassword,
			Registry:      registry,
			EventBus:      eventBus,
			Workers:       currentWorkers,
			ShutdownDelay: parseDuration(opts.ShutdownDelay, time.Second),
			Shutdown: func() {
				select {
				case exitCh <- struct{}{}:
				default:
				}
			},
		}
		if opts.MetricsPrometheusEnabled {
			apiOpts.PrometheusHandler = metrics.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		statsExporter := exporters.NewSSEExporter(eventBus, parseDuration(opts.MetricsSSEInterval, 5*time.Second))

		hooks.OnStart(func() {
			logger.Info("Starting", "build", version.Get().String())
			if startErr := workers.Start(); startErr != nil {
				logger.Warn("Worker definitions will not be reloaded", "file", opts.WorkersFile, "error", startErr)
			}
			statsExporter.Start(context.Background())

			ln, listenErr := server.Listen(opts.Port)
			if listenErr != nil {
				logger.Error("Failed to listen", "port", opts.Port, "error", listenErr)
				os.Exit(1)
			}

			// Admin stop exits the process; the supervisor restarts it
			go func() {
				<-exitCh
				logger.Warn("Exiting on admin request")
				if p, findErr := os.FindProcess(os.Getpid()); findErr == nil {
					_ = p.Signal(syscall.SIGTERM)
				}
			}()

			notifier.Ready()
			logger.Info("Starting HTTP server", "port", opts.Port)
			if serveErr := server.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", serveErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()

			// Stop workers first so streaming responses finish with a terminal event
			if n := registry.StopAll(); n > 0 {
				logger.Info("Stopped workers", "count", n)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if stopErr := server.Stop(ctx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			statsExporter.Stop()
			if stopErr := workers.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateAnalyzeCmd())
	cli.Root().AddCommand(cmd.CreateCheckWorkersCmd())

	// Run the CLI
	cli.Run()
}
