package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bookflow/config"
	"bookflow/engine"
	"bookflow/feed"
	"bookflow/internal/channel"
	"bookflow/logger"
	"bookflow/models"
	"bookflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Bookflow.Name,
		"version": cfg.Bookflow.Version,
	}).Info("starting bookflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Storage.S3.Enabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "Bookflow", cfg.Logging.DashboardName)
	}

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, cfg.Metrics.ReportEvery)
	}

	channels := channel.NewChannels(
		cfg.Channels.EventBuffer,
		cfg.Channels.OutBuffer,
	)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx)

	exporter, err := writer.NewViewExporter(cfg)
	if err != nil {
		log.WithError(err).Error("failed to create view exporter")
		os.Exit(1)
	}

	adapter := feed.NewAdapter(cfg, feed.NewWSDialer(cfg.Feed.DialTimeout), channels)
	eng := engine.NewEngine(cfg, channels, adapter, exporter)

	if err := eng.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start engine")
		os.Exit(1)
	}

	go consumeViews(ctx, channels, log)

	if err := eng.Connect(cfg.Feed.URL, cfg.Feed.Symbol); err != nil {
		log.WithError(err).Error("failed to request connection")
		os.Exit(1)
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	done := make(chan struct{})
	go func() {
		eng.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("bookflow stopped")
}

// consumeViews drains the engine output channel. A rendering frontend
// would subscribe here; the standalone binary just logs the traffic.
func consumeViews(ctx context.Context, channels *channel.Channels, log *logger.Log) {
	clog := log.WithComponent("consumer")

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-channels.Out:
			if !ok {
				return
			}
			switch msg.Kind {
			case models.MsgStatus:
				clog.WithFields(logger.Fields{
					"state":  msg.State.String(),
					"detail": msg.Detail,
				}).Info("feed status changed")
			case models.MsgSnapshotReady:
				clog.WithFields(logger.Fields{
					"coin":        msg.View.Coin,
					"order_count": msg.View.OrderCount(),
					"tick_size":   msg.View.Heatmap.TickSize,
				}).Info("initial view ready")
			case models.MsgViewUpdated:
				clog.WithFields(logger.Fields{
					"coin":        msg.View.Coin,
					"order_count": msg.View.OrderCount(),
				}).Debug("view updated")
			case models.MsgLoadResult:
				clog.WithFields(logger.Fields{
					"coin":        msg.View.Coin,
					"order_count": msg.Load.OrderCount,
				}).Info("snapshot file loaded")
			case models.MsgLoadFailed:
				clog.WithFields(logger.Fields{
					"detail": msg.Detail,
				}).Warn("snapshot file load failed")
			}
		}
	}
}
