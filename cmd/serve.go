package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/packetlens/packetlens/internal/capture"
	"github.com/packetlens/packetlens/internal/config"
	"github.com/packetlens/packetlens/internal/export"
	"github.com/packetlens/packetlens/internal/log"
	"github.com/packetlens/packetlens/internal/metrics"
	"github.com/packetlens/packetlens/internal/pipeline"
	"github.com/packetlens/packetlens/internal/schema"
	"github.com/packetlens/packetlens/internal/server"
	"github.com/packetlens/packetlens/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard backend server",
	Long: `Run the dashboard backend server.

Restores the persisted schema registry and packet collection, resumes live
monitoring if the capture server reports a running capture, and serves the
dashboard API.

Examples:
  packetlens serve                 # built-in defaults
  packetlens serve -c config.yml   # explicit configuration`,
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() {
	cfg := loadConfig()
	if err := log.Init(cfg.Log); err != nil {
		exitWithError("failed to initialize logging", err)
	}

	st, err := store.NewFileStore(cfg.Store.Dir, cfg.Store.QuotaBytes)
	if err != nil {
		exitWithError("failed to open store", err)
	}

	session := pipeline.NewSession(cfg.Envelope)
	restoreState(session, st)

	client := capture.NewClient(cfg.Capture.Endpoint, cfg.Capture.Timeout)
	hub := server.NewEventsHub()
	session.AddSink(hub)

	storeSink := store.NewSink(st, session.Snapshot, cfg.Store.FlushInterval)
	session.AddSink(storeSink)

	var closers []func() error
	closers = append(closers, storeSink.Close)
	for _, sink := range buildSinks(cfg) {
		session.AddSink(sink)
		closers = append(closers, sink.Close)
	}

	srv := server.New(cfg.Server.Listen, session, st, client, hub)

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		exitWithError("failed to start dashboard server", err)
	}

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := metricsSrv.Start(ctx); err != nil {
			exitWithError("failed to start metrics server", err)
		}
	}

	resumeMonitoring(ctx, client, srv)

	// Block until shutdown signal.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")

	if err := srv.Stop(ctx); err != nil {
		slog.Error("dashboard server shutdown failed", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Stop(ctx)
	}
	for _, closeSink := range closers {
		if err := closeSink(); err != nil {
			slog.Error("sink close failed", "error", err)
		}
	}
}

// closableSink is a sink with a shutdown hook.
type closableSink interface {
	pipeline.Sink
	Close() error
}

// buildSinks constructs the configured export sinks.
func buildSinks(cfg *config.Config) []closableSink {
	var sinks []closableSink
	if cfg.Sinks.Console.Enabled {
		console, err := export.NewConsoleSink(cfg.Sinks.Console.Format)
		if err != nil {
			exitWithError("invalid console sink configuration", err)
		}
		sinks = append(sinks, console)
	}
	if cfg.Sinks.Kafka.Enabled {
		kafka, err := export.NewKafkaSink(cfg.Sinks.Kafka.KafkaConfig)
		if err != nil {
			exitWithError("invalid kafka sink configuration", err)
		}
		sinks = append(sinks, kafka)
	}
	return sinks
}

// restoreState rebuilds the registry from the persisted schema source
// and reloads persisted packets, seeding the sequence counter past the
// highest restored index. Runs before any stream subscription.
func restoreState(session *pipeline.Session, st *store.FileStore) {
	if src, err := st.LoadSchemaSource(); err == nil {
		reg, err := schema.Build([]schema.Source{{Name: "persisted", Text: src}})
		if err != nil {
			slog.Error("persisted schema source no longer parses, starting without registry", "error", err)
		} else {
			session.SetRegistry(reg)
			slog.Info("schema registry restored",
				"types", reg.TypeCount(), "mappings", reg.MappingCount())
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		slog.Error("failed to read persisted schema source", "error", err)
	}

	pkts, err := st.Load()
	if err != nil {
		slog.Error("failed to load persisted packets", "error", err)
		return
	}
	if len(pkts) > 0 {
		session.Restore(pkts)
		slog.Info("packet collection restored", "packets", len(pkts))
	}
}

// resumeMonitoring re-attaches the live stream when the capture server
// reports a capture already running, so a dashboard reload does not
// silently drop packets.
func resumeMonitoring(ctx context.Context, client *capture.Client, srv *server.Server) {
	running, err := client.Status(ctx)
	if err != nil {
		slog.Warn("capture server unreachable, live monitoring idle", "error", err)
		return
	}
	if !running {
		return
	}
	if err := srv.Stream().Start(ctx); err != nil {
		slog.Error("failed to resume live monitoring", "error", err)
		return
	}
	slog.Info("live monitoring resumed")
}

// loadConfig loads the configured file or falls back to built-in
// defaults when no --config was given.
func loadConfig() *config.Config {
	if configFile == "" {
		return config.Default()
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError("failed to load configuration", err)
	}
	return cfg
}
