// Package config loads the YAML configuration shared by the page cache tools.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flushmanager "github.com/sushant-115/gojodb-pcache/core/write_engine/flush_manager"
	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"github.com/sushant-115/gojodb-pcache/core/write_engine/pcache"
	"github.com/sushant-115/gojodb-pcache/pkg/logger"
	"github.com/sushant-115/gojodb-pcache/pkg/telemetry"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreFile   = "file"
	StoreBadger = "badger"
	StoreMemory = "memory"
)

type Config struct {
	Logger    logger.Config    `yaml:"logger"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Cache     CacheConfig      `yaml:"cache"`
	Store     StoreConfig      `yaml:"store"`
}

type CacheConfig struct {
	PageSize      int    `yaml:"page_size"`
	Capacity      int    `yaml:"capacity"`
	ExtraSize     int    `yaml:"extra_size"`
	FormatVersion uint16 `yaml:"format_version"`
	Replacer      string `yaml:"replacer"`
	CloseMode     string `yaml:"close_mode"`
	StrictRelease bool   `yaml:"strict_release"`
}

type StoreConfig struct {
	Kind string `yaml:"kind"`
	// Dir holds one file per page file for "file", the badger directory for
	// "badger". Ignored for "memory".
	Dir string `yaml:"dir"`
	// ThrottleBytesPerSec caps store bandwidth; zero means unlimited.
	ThrottleBytesPerSec int64 `yaml:"throttle_bytes_per_sec"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Logger: logger.Config{Level: "info", Format: "console", OutputFile: "stderr"},
		Telemetry: telemetry.Config{
			ServiceName: logger.DefaultService,
		},
		Cache: CacheConfig{
			PageSize:      4096,
			Capacity:      256,
			FormatVersion: pagemanager.DefaultFormatVersion,
			Replacer:      "fifo",
			CloseMode:     pcache.FlushOnClose.String(),
		},
		Store: StoreConfig{Kind: StoreMemory},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are an error.
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Logger.Validate(); err != nil {
		return err
	}
	if _, err := c.Cache.Options(); err != nil {
		return err
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache: capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Cache.PageSize <= 0 || c.Cache.PageSize%pcache.PageAlignment != 0 {
		return fmt.Errorf("cache: page_size %d must be a positive multiple of %d", c.Cache.PageSize, pcache.PageAlignment)
	}
	switch strings.ToLower(c.Store.Kind) {
	case StoreMemory:
	case StoreFile, StoreBadger:
		if c.Store.Dir == "" {
			return fmt.Errorf("store: %s store needs a dir", c.Store.Kind)
		}
	default:
		return fmt.Errorf("store: unknown kind %q", c.Store.Kind)
	}
	if c.Store.ThrottleBytesPerSec < 0 {
		return fmt.Errorf("store: throttle_bytes_per_sec must not be negative")
	}
	return nil
}

// Options translates the cache section into pcache options. Logger, meter and
// tracer are added by the caller.
func (c CacheConfig) Options() ([]pcache.Option, error) {
	replacer, err := pcache.ReplacerByName(c.Replacer)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	mode, err := pcache.ParseCloseMode(c.CloseMode)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	version := c.FormatVersion
	if version == 0 {
		version = pagemanager.DefaultFormatVersion
	}
	if _, err := pagemanager.ChecksumFor(version); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	return []pcache.Option{
		pcache.WithReplacer(replacer),
		pcache.WithCloseMode(mode),
		pcache.WithFormatVersion(version),
		pcache.WithStrictRelease(c.StrictRelease),
	}, nil
}

// OpenStore builds the configured page store. The returned close func
// releases it and is safe to call when the store holds nothing.
func (s StoreConfig) OpenStore(pageSize int, log *zap.Logger) (flushmanager.PageStore, func() error, error) {
	var (
		store   flushmanager.PageStore
		closeFn = func() error { return nil }
	)
	switch strings.ToLower(s.Kind) {
	case StoreMemory, "":
		store = flushmanager.NewMemStore(pageSize)
	case StoreFile:
		dm, err := flushmanager.NewDiskManager(s.Dir, pageSize, log)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = dm, dm.Close
	case StoreBadger:
		bs, err := flushmanager.NewBadgerStore(s.Dir, pageSize, log)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = bs, bs.Close
	default:
		return nil, nil, fmt.Errorf("store: unknown kind %q", s.Kind)
	}
	if s.ThrottleBytesPerSec > 0 {
		store = flushmanager.NewThrottledStore(store, pageSize, s.ThrottleBytesPerSec)
	}
	return store, closeFn, nil
}

// OpenCache opens the configured store and a cache over it. closeStore must
// be called after the cache is closed.
func (c Config) OpenCache(log *zap.Logger, tel *telemetry.Telemetry) (cache *pcache.Cache, closeStore func() error, err error) {
	opts, err := c.Cache.Options()
	if err != nil {
		return nil, nil, err
	}
	opts = append(opts, pcache.WithLogger(log))
	if tel != nil {
		opts = append(opts, pcache.WithMetrics(tel.Meter), pcache.WithTracer(tel.Tracer))
	}
	store, closeStore, err := c.Store.OpenStore(c.Cache.PageSize, log)
	if err != nil {
		return nil, nil, err
	}
	cache, err = pcache.Open(c.Cache.PageSize, c.Cache.Capacity, c.Cache.ExtraSize, store, opts...)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	return cache, closeStore, nil
}
