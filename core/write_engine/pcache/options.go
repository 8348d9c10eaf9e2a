package pcache

import (
	"fmt"
	"strings"

	pagemanager "github.com/sushant-115/gojodb-pcache/core/write_engine/page_manager"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// PageAlignment is the granularity page sizes must be a multiple of, matching
// the sector size direct I/O expects.
const PageAlignment = 512

// CloseMode decides what Close does with dirty pages.
type CloseMode int

const (
	FlushOnClose CloseMode = iota
	DiscardOnClose
)

func (m CloseMode) String() string {
	switch m {
	case FlushOnClose:
		return "flush"
	case DiscardOnClose:
		return "discard"
	default:
		return fmt.Sprintf("CloseMode(%d)", int(m))
	}
}

// ParseCloseMode accepts "flush" or "discard".
func ParseCloseMode(s string) (CloseMode, error) {
	switch strings.ToLower(s) {
	case "", "flush":
		return FlushOnClose, nil
	case "discard":
		return DiscardOnClose, nil
	}
	return 0, fmt.Errorf("%w: unknown close mode %q", ErrInvalidConfig, s)
}

// ReplacerFactory builds the eviction policy for a cache of the given capacity.
type ReplacerFactory func(capacity int) Replacer

// ReplacerByName maps "fifo" and "clock" to their factories.
func ReplacerByName(name string) (ReplacerFactory, error) {
	switch strings.ToLower(name) {
	case "", "fifo":
		return func(n int) Replacer { return NewFIFOReplacer(n) }, nil
	case "clock":
		return func(n int) Replacer { return NewClockReplacer(n) }, nil
	}
	return nil, fmt.Errorf("%w: unknown replacer %q", ErrInvalidConfig, name)
}

type options struct {
	logger        *zap.Logger
	meter         metric.Meter
	tracer        trace.Tracer
	formatVersion uint16
	newReplacer   ReplacerFactory
	closeMode     CloseMode
	strictRelease bool
}

func defaultOptions() options {
	return options{
		logger:        zap.NewNop(),
		tracer:        nooptrace.NewTracerProvider().Tracer(""),
		formatVersion: pagemanager.DefaultFormatVersion,
		newReplacer:   func(n int) Replacer { return NewFIFOReplacer(n) },
		closeMode:     FlushOnClose,
	}
}

// Option configures a Cache at Open.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics registers the cache instruments on meter.
func WithMetrics(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// WithTracer records a span for every miss.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithFormatVersion selects the on-disk page format and with it the checksum
// algorithm. It must match the database the store holds.
func WithFormatVersion(v uint16) Option {
	return func(o *options) { o.formatVersion = v }
}

// WithReplacer swaps the eviction policy. The default is FIFO among unpinned slots.
func WithReplacer(f ReplacerFactory) Option {
	return func(o *options) {
		if f != nil {
			o.newReplacer = f
		}
	}
}

func WithCloseMode(m CloseMode) Option {
	return func(o *options) { o.closeMode = m }
}

// WithStrictRelease makes handle misuse panic instead of returning ErrDoubleRelease.
func WithStrictRelease(strict bool) Option {
	return func(o *options) { o.strictRelease = strict }
}
