package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"github.com/sushant-115/gojodb-pcache/pkg/config"
	"github.com/sushant-115/gojodb-pcache/pkg/logger"
	"github.com/sushant-115/gojodb-pcache/pkg/telemetry"
	"go.uber.org/zap"
)

var CLI struct {
	Config      string        `short:"c" help:"YAML config file" type:"existingfile"`
	Store       string        `help:"Store kind (file, badger, memory)"`
	Dir         string        `help:"Store directory" type:"path"`
	Capacity    int           `help:"Number of cache slots"`
	Replacer    string        `help:"Eviction policy (fifo, clock)"`
	MetricsAddr string        `help:"Serve Prometheus metrics on this address"`
	Workers     int           `short:"w" default:"8" help:"Concurrent workers"`
	Pages       int           `short:"n" default:"1024" help:"Working set size in pages"`
	Ops         int           `default:"0" help:"Operations per worker, 0 to run for --duration"`
	Duration    time.Duration `short:"d" default:"10s" help:"How long to run"`
	DirtyRatio  float64       `default:"0.2" help:"Fraction of accesses that modify the page"`
	Rate        float64       `help:"Total operations per second, 0 for unpaced"`
	Seed        uint64        `default:"1" help:"Random seed"`
	Verify      bool          `default:"true" negatable:"" help:"Check that no update was lost"`
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if CLI.Config != "" {
		var err error
		if cfg, err = config.Load(CLI.Config); err != nil {
			return cfg, err
		}
	}
	if CLI.Store != "" {
		cfg.Store.Kind = CLI.Store
	}
	if CLI.Dir != "" {
		cfg.Store.Dir = CLI.Dir
	}
	if CLI.Capacity != 0 {
		cfg.Cache.Capacity = CLI.Capacity
	}
	if CLI.Replacer != "" {
		cfg.Cache.Replacer = CLI.Replacer
	}
	if CLI.MetricsAddr != "" {
		cfg.Telemetry.Enabled = true
		cfg.Telemetry.MetricsAddr = CLI.MetricsAddr
	}
	return cfg, cfg.Validate()
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer log.Sync()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry, log)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

	cache, closeStore, err := cfg.OpenCache(log, tel)
	if err != nil {
		return err
	}
	defer closeStore()

	w := workload{
		Workers:    CLI.Workers,
		Pages:      CLI.Pages,
		Ops:        CLI.Ops,
		Duration:   CLI.Duration,
		DirtyRatio: CLI.DirtyRatio,
		OpsPerSec:  CLI.Rate,
		Seed:       CLI.Seed,
		File:       pagemanager.FileIDFromName("bench"),
	}
	if CLI.Ops > 0 {
		w.Duration = 0
	}
	log.Info("Preparing working set", zap.Int("pages", w.Pages), zap.Int("capacity", cache.Capacity()))
	if err := prepare(ctx, cache, w); err != nil {
		return err
	}

	res, runErr := runWorkload(ctx, cache, w, log)
	fmt.Println(res)
	if runErr != nil {
		return runErr
	}
	if CLI.Verify {
		sum, err := counterSum(context.Background(), cache, w)
		if err != nil {
			return err
		}
		if sum != uint64(res.Dirtied) {
			return fmt.Errorf("lost updates: pages count %d, workers made %d", sum, res.Dirtied)
		}
		fmt.Println("verify: ok")
	}
	return cache.Close(context.Background())
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("pcache_bench"),
		kong.Description("Concurrent load generator for the GojoDB page cache"),
		kong.UsageOnError(),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	kctx.FatalIfErrorf(run(ctx))
}
