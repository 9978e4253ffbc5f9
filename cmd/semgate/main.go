// Package main provides the semgate binary entry point.
// Semgate drives workflow executions through their gates on a tick and
// escalates to humans over chat, console and speech channels.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/semgate/command"
	"github.com/c360studio/semgate/config"
	autonomyscheduler "github.com/c360studio/semgate/processor/autonomy-scheduler"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semgate"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type runFlags struct {
	configPath  string
	logLevel    string
	metricsAddr string
	paused      bool
}

func rootCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Autonomous gate progression for workflow executions",
		Long: `Semgate periodically checks in-flight workflow executions and approves
gates whose deliverables exist. Gates that keep failing go through a retry
ladder: retries, then a recovery agent, then a human over chat, console or
speech channels. Humans answer on the same channels.

All collaborators communicate via NATS using the semstreams framework.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Prometheus listen address (overrides metrics.addr)")
	cmd.Flags().BoolVar(&flags.paused, "paused", false, "Connect channels but leave the tick loop stopped unless auto_start is set")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})
	cmd.AddCommand(parseCmd())

	return cmd
}

func parseCmd() *cobra.Command {
	var c command.Context

	cmd := &cobra.Command{
		Use:   "parse <text|json>",
		Short: "Print the command an inbound message would produce",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed := parseMessage(strings.Join(args, " "), c)
			if parsed == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no command")
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(parsed)
		},
	}

	cmd.Flags().StringVar(&c.ExecutionID, "execution", "", "Execution id of the thread the message replies to")
	cmd.Flags().StringVar(&c.GateID, "gate", "", "Gate id of the thread the message replies to")
	cmd.Flags().StringVar(&c.User, "user", "", "Sender of the message")
	return cmd
}

// parseMessage treats JSON objects as interactive payloads and everything
// else as free text.
func parseMessage(input string, c command.Context) *command.Command {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "{") {
		parsed := command.ParseAction([]byte(input))
		if parsed != nil && parsed.User == "" {
			parsed.User = c.User
		}
		return parsed
	}
	return command.ParseText(input, c)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func run(ctx context.Context, flags runFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(flags.logLevel)}))
	slog.SetDefault(logger)

	cfg, path, err := config.NewLoader(logger).Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = flags.metricsAddr
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	natsClient, err := connectToNATS(signalCtx, cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(context.Background())

	raw, err := cfg.AutonomyJSON()
	if err != nil {
		return err
	}
	if !cfg.Metrics.Enabled {
		raw, err = disableMetrics(raw)
		if err != nil {
			return err
		}
	}

	discoverable, err := autonomyscheduler.NewComponent(raw, component.Dependencies{
		NATSClient: natsClient,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", autonomyscheduler.ComponentName, err)
	}
	comp, ok := discoverable.(*autonomyscheduler.Component)
	if !ok {
		return fmt.Errorf("unexpected component type %T", discoverable)
	}

	if err := comp.Initialize(); err != nil {
		return fmt.Errorf("initialize %s: %w", autonomyscheduler.ComponentName, err)
	}
	if err := comp.Start(signalCtx); err != nil {
		return fmt.Errorf("start %s: %w", autonomyscheduler.ComponentName, err)
	}
	defer func() {
		if err := comp.Stop(30 * time.Second); err != nil {
			logger.Error("Error stopping component", "error", err)
		}
	}()

	if !comp.Scheduler().Options().AutoStart && !flags.paused {
		if err := comp.StartScheduler(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	if path != "" {
		watcher, err := config.NewWatcher(path, func(_ context.Context, next *config.Config) error {
			raw, err := next.AutonomyJSON()
			if err != nil {
				return err
			}
			return comp.Reconfigure(raw)
		}, config.WithWatcherLogger(logger))
		if err != nil {
			return err
		}
		if err := watcher.Start(signalCtx); err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	if cfg.Metrics.Enabled {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "addr", srv.Addr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("Serving metrics", "addr", cfg.Metrics.Addr)
	}

	status := comp.Scheduler().Status()
	logger.Info("Semgate ready",
		"version", Version,
		"config", path,
		"scheduler_running", status.Running,
		"tick_interval_ms", status.TickInterval)

	<-signalCtx.Done()
	logger.Info("Received shutdown signal")
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// disableMetrics forces the component's metrics switch off when the
// endpoint is disabled, so collectors are not registered for nothing.
func disableMetrics(raw json.RawMessage) (json.RawMessage, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode autonomy config: %w", err)
	}
	m["metrics"] = false
	return json.Marshal(m)
}

func connectToNATS(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", cfg.URL)

	client, err := natsclient.NewClient(cfg.URL,
		natsclient.WithName(cfg.Name),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, cfg.URL)
	}

	connCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, cfg.URL)
	}

	logger.Info("Connected to NATS", "url", cfg.URL)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker run -p 4222:4222 nats -js

Or set %s to point to your NATS server.`, err, url, config.EnvNATSURL)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}
