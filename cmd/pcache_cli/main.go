package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"github.com/sushant-115/gojodb-pcache/pkg/config"
	"github.com/sushant-115/gojodb-pcache/pkg/logger"
	"github.com/sushant-115/gojodb-pcache/pkg/telemetry"
	"go.uber.org/zap"
)

var CLI struct {
	Config   string `short:"c" help:"YAML config file" type:"existingfile"`
	Store    string `help:"Store kind (file, badger, memory)"`
	Dir      string `help:"Store directory" type:"path"`
	PageSize int    `help:"Page size in bytes"`
	Capacity int    `help:"Number of cache slots"`
	Replacer string `help:"Eviction policy (fifo, clock)"`
	File     string `help:"Name of the paged file to work on" default:"main"`
	LogLevel string `help:"Log level"`

	Commands []string `arg:"" optional:"" help:"Run a single command instead of the interactive shell"`
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
	if CLI.PageSize != 0 {
		cfg.Cache.PageSize = CLI.PageSize
	}
	if CLI.Capacity != 0 {
		cfg.Cache.Capacity = CLI.Capacity
	}
	if CLI.Replacer != "" {
		cfg.Cache.Replacer = CLI.Replacer
	}
	if CLI.LogLevel != "" {
		cfg.Logger.Level = CLI.LogLevel
	} else if CLI.Config == "" {
		cfg.Logger.Level = "warn"
	}
	return cfg, cfg.Validate()
}

func run() error {
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

	ctx := context.Background()
	sh := newShell(cache, pagemanager.FileIDFromName(CLI.File), os.Stdout)
	defer func() {
		if err := sh.shutdown(ctx); err != nil {
			log.Error("Failed to close page cache", zap.Error(err))
		}
	}()

	if len(CLI.Commands) > 0 {
		return sh.processCommand(ctx, CLI.Commands)
	}
	return interactive(ctx, sh)
}

func interactive(ctx context.Context, sh *shell) error {
	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pcache> ",
		HistoryFile:     filepath.Join(home, ".pcache_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("fetch"),
			readline.PcItem("write"),
			readline.PcItem("show"),
			readline.PcItem("release"),
			readline.PcItem("flush"),
			readline.PcItem("discard"),
			readline.PcItem("snapshot"),
			readline.PcItem("stats"),
			readline.PcItem("close"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(rl.Stdout(), "Page cache shell. Type 'help' for commands, 'exit' or 'quit' to leave.")
	sh.out = rl.Stdout()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		err = sh.processCommand(ctx, strings.Fields(line))
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(rl.Stdout(), "Error: %v\n", err)
		}
	}
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("pcache_cli"),
		kong.Description("Interactive shell over a GojoDB page cache"),
		kong.UsageOnError(),
	)
	err := run()
	if errors.Is(err, errQuit) {
		err = nil
	}
	kctx.FatalIfErrorf(err)
}
