// stashd is the telemetry storage daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/stash/internal/device"
	"github.com/xtxerr/stash/internal/export"
	"github.com/xtxerr/stash/internal/logging"
	"github.com/xtxerr/stash/internal/shell"
	"github.com/xtxerr/stash/internal/storage"
	"github.com/xtxerr/stash/internal/storage/backend"
	"github.com/xtxerr/stash/internal/storage/buffer"
	"github.com/xtxerr/stash/internal/storage/config"
	"github.com/xtxerr/stash/internal/storage/seglog"
	"github.com/xtxerr/stash/internal/storage/sources"
	"github.com/xtxerr/stash/internal/storage/stats"
	"github.com/xtxerr/stash/internal/storage/types"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	backendName := flag.String("backend", "", "storage backend: memory or file (overrides config)")
	dataDir := flag.String("data-dir", "", "storage directory for the file backend (overrides config)")
	initialMode := flag.String("mode", "", "initial mode: passthrough or buffer (overrides config)")
	withShell := flag.Bool("shell", false, "start the interactive diagnostic shell")
	simInterval := flag.Duration("sim-interval", 2*time.Second, "synthetic telemetry interval, 0 disables the simulator")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg = config.DefaultConfig()
		} else {
			slog.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *backendName != "" {
		cfg.Backend = *backendName
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *initialMode != "" {
		cfg.Mode.Initial = *initialMode
	}
	if *withShell {
		cfg.Shell.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("validate config", "error", err)
		os.Exit(1)
	}

	logging.Init(logLevel(cfg.Logging.Level), cfg.Logging.JSON)
	log := logging.Component("stashd")
	log.Info("starting", "version", Version, "backend", cfg.Backend, "mode", cfg.Mode.Initial)

	if err := cfg.EnsureDirectories(); err != nil {
		log.Error("prepare storage directory", "error", err)
		os.Exit(1)
	}

	// Producers
	sim := device.NewSimulator(*simInterval)
	channels := sources.Channels{
		Power:         sim.Power,
		Environmental: sim.Environmental,
		Location:      sim.Location,
		Network:       sim.Network,
	}

	registry := types.NewRegistry(cfg.Buffer.MaxTypes, cfg.Buffer.MaxRecordSize)
	if err := sources.Register(registry, channels); err != nil {
		log.Error("register data types", "error", err)
		os.Exit(1)
	}

	// Backend
	var be backend.Backend
	switch cfg.Backend {
	case "file":
		be = seglog.New(registry, seglog.Options{
			Dir:       cfg.DataDir,
			Capacity:  uint32(cfg.Buffer.CapacityPerType),
			BlockSize: cfg.Buffer.BlockSize,
		})
	default:
		be = buffer.New(registry, cfg.Buffer.CapacityPerType)
	}
	if err := be.Init(); err != nil {
		log.Error("initialize backend", "error", err)
		os.Exit(1)
	}

	tracker, err := stats.New(cfg.Stats.Enabled, cfg.Stats.Accuracy)
	if err != nil {
		log.Error("initialize stats", "error", err)
		os.Exit(1)
	}

	coord, err := storage.New(cfg, registry, be, tracker)
	if err != nil {
		log.Error("create coordinator", "error", err)
		os.Exit(1)
	}
	if err := coord.Start(); err != nil {
		log.Error("start coordinator", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if *simInterval > 0 {
		g.Go(func() error {
			err := sim.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		return consumeEvents(ctx, coord, log)
	})

	if cfg.Shell.Enabled {
		g.Go(func() error {
			shell.New(coord).Run()
			stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("runtime failure", "error", err)
	}

	if err := coord.Stop(); err != nil {
		log.Warn("coordinator stop", "error", err)
	}

	log.Info("stopped")
}

// consumeEvents drains coordinator notifications. Data events are
// CBOR-encoded the way the transport would before shipping them.
func consumeEvents(ctx context.Context, coord *storage.Coordinator, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-coord.Events():
			if !ok {
				return nil
			}
			switch ev := ev.(type) {
			case storage.Data:
				encoded, err := export.Encode(storage.Item(ev))
				if err != nil {
					log.Warn("encode record", "type", ev.Type, "error", err)
					continue
				}
				log.Debug("record ready for transport", "type", ev.Type, "cbor_bytes", len(encoded))
			case storage.ModeChanged:
				log.Info("mode confirmed", "mode", ev.Mode.String())
			case storage.ModeChangeRejected:
				log.Warn("mode change rejected", "requested", ev.Requested.String(), "reason", ev.Reason.String())
			case storage.BatchAvailable:
				log.Info("batch available", "session_id", ev.SessionID, "items", ev.Items, "more_data", ev.MoreData)
			case storage.BatchEmpty:
				log.Info("batch empty", "session_id", ev.SessionID)
			case storage.BatchBusy:
				log.Warn("batch busy", "session_id", ev.SessionID)
			case storage.BatchError:
				log.Warn("batch error", "session_id", ev.SessionID)
			}
		}
	}
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
