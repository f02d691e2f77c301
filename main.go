package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pthm-cable/pbf/config"
	"github.com/pthm-cable/pbf/sim"
	"github.com/pthm-cable/pbf/stream"
	"github.com/pthm-cable/pbf/telemetry"
	"github.com/pthm-cable/pbf/viewer"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	headless := flag.Bool("headless", false, "Run without graphics")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	statsWindow := flag.Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for snapshot files")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	resume := flag.String("resume", "", "Snapshot file to resume from")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxFrames := flag.Int("max-frames", 0, "Stop after N published frames (0 = unlimited)")
	streamAddr := flag.String("stream", "", "Serve frames over websocket on this address (overrides config)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := sim.Options{
		Config:         cfg,
		Seed:           rngSeed,
		LogStats:       *logStats,
		StatsWindowSec: *statsWindow,
		SnapshotDir:    *snapshotDir,
		OutputDir:      *outputDir,
	}

	if *resume != "" {
		snap, err := telemetry.LoadSnapshot(*resume)
		if err != nil {
			slog.Error("failed to load snapshot", "path", *resume, "error", err)
			os.Exit(1)
		}
		opts.Resume = snap
	}

	addr := cfg.Stream.Addr
	if *streamAddr != "" {
		addr = *streamAddr
	}
	if cfg.Stream.Enabled || *streamAddr != "" {
		opts.Stream = stream.NewServer(time.Duration(cfg.Stream.IntervalMS) * time.Millisecond)
		go func() {
			if err := opts.Stream.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("stream server failed", "error", err)
			}
		}()
	}

	s, err := sim.New(opts)
	if err != nil {
		slog.Error("failed to create simulation", "error", err)
		os.Exit(1)
	}
	defer s.Close()

	if !*headless {
		if err := viewer.New(cfg, s).Run(ctx); err != nil {
			slog.Error("viewer failed", "error", err)
		}
		return
	}

	slog.Info("starting headless simulation",
		"seed", rngSeed,
		"max_frames", *maxFrames,
		"particles", s.Solver().GetParticleCount(),
	)

	runErr := s.RunHeadless(ctx, uint64(max(*maxFrames, 0)))
	if runErr != nil {
		slog.Error("headless run stopped", "error", runErr)
	}

	if *snapshotDir != "" || *outputDir != "" {
		if path, err := s.SaveSnapshot(); err != nil {
			slog.Error("failed to save final snapshot", "error", err)
		} else {
			slog.Info("final snapshot saved", "path", path)
		}
	}

	if runErr != nil {
		s.Close()
		os.Exit(1)
	}
}
