package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/qetzal/snapcourier/internal/api"
	"github.com/qetzal/snapcourier/internal/archive"
	"github.com/qetzal/snapcourier/internal/capture"
	"github.com/qetzal/snapcourier/internal/config"
	"github.com/qetzal/snapcourier/internal/deliver"
	"github.com/qetzal/snapcourier/internal/enrich"
	"github.com/qetzal/snapcourier/internal/pipeline"
	"github.com/qetzal/snapcourier/internal/session"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture pipeline (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(false)
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Capture, enrich, and deliver a single frame, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(true)
	},
}

func runPipeline(once bool) error {
	fmt.Fprintf(os.Stderr, "snapcourier version %s\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Initialize structured logging.
	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.LogLevel, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the session store. A broken store degrades to an unpersisted
	// session rather than blocking capture.
	store, err := session.Open(cfg.DataDir)
	if err != nil {
		printWarning("session store unavailable, this run will not be recorded: %v", err)
		store = nil
	} else {
		defer func() {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: closing session store: %v\n", err)
			}
		}()
	}

	tracker := session.NewTracker(store)
	slog.Info("session started", "session_id", tracker.ID(), "settings", cfg.Summary())

	grabber := capture.New(cfg.ImageQuality, int(cfg.MaxImageSizeMB*1024*1024))

	providerClient := &http.Client{Timeout: 10 * time.Second}
	chain := enrich.NewChain(
		enrich.ProvidersFor(cfg.LocationProviders, providerClient),
		cfg.ProviderTimeout(),
		cfg.Interval(),
	)
	enricher := enrich.NewService(chain, cfg.CaptureLocation)

	var archiver pipeline.Archiver
	if cfg.SaveLocally {
		st, err := archive.NewStore(cfg.LocalSavePath, tracker.ID(), cfg.ArchiveRetention)
		if err != nil {
			printWarning("local archive disabled: %v", err)
		} else {
			archiver = st
		}
	}

	schedule := deliver.Schedule{
		Base:        time.Duration(cfg.DeliveryBackoffSec) * time.Second,
		Cap:         time.Duration(cfg.DeliveryBackoffCap) * time.Second,
		MaxAttempts: cfg.DeliveryMaxAttempts,
	}
	client := deliver.NewClient(cfg.WebhookURL, tracker.ID(), cfg.EmbedColor, schedule)

	// Optional local status endpoint.
	if cfg.StatusPort > 0 {
		srv := &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.StatusPort),
			Handler: api.NewHandler(tracker, version),
		}
		go func() {
			slog.Info("status endpoint listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("status endpoint error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("status endpoint shutdown", "error", err)
			}
		}()
	}

	delay := cfg.Delay()
	maxCaptures := cfg.MaxCaptures
	if once {
		delay = 0
		maxCaptures = 1
	}

	runner := &pipeline.Runner{
		Capturer:    grabber,
		Enricher:    enricher,
		Archiver:    archiver,
		Deliverer:   client,
		Tracker:     tracker,
		Interval:    cfg.Interval(),
		StartDelay:  delay,
		MaxCaptures: maxCaptures,
	}

	final, err := runner.Run(ctx)
	if err != nil {
		printWarning("session record not persisted: %v", err)
	}

	printStatus("Session", "%s", final.ID)
	printStatus("Captures", "%d attempted, %d delivered, %d archived", final.Attempted, final.Delivered, final.Archived)
	if final.Failed > 0 {
		printWarning("%d capture(s) failed delivery", final.Failed)
	} else {
		printSuccess("All deliveries succeeded")
	}
	return nil
}
