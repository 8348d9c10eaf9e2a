package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// CacheMetrics holds all the metric instruments for the page cache.
type CacheMetrics struct {
	HitsCounter          metric.Int64Counter
	MissesCounter        metric.Int64Counter
	EvictionsCounter     metric.Int64Counter
	WritebacksCounter    metric.Int64Counter
	LoadFailuresCounter  metric.Int64Counter
	ExhaustedCounter     metric.Int64Counter
	PinnedUpDownCounter  metric.Int64UpDownCounter
	LoadLatencyHistogram metric.Float64Histogram
}

// NewCacheMetrics creates and registers all the metrics for the page cache.
// A nil meter yields no-op instruments.
func NewCacheMetrics(meter metric.Meter) (*CacheMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}

	m := &CacheMetrics{}
	counters := []struct {
		dst         *metric.Int64Counter
		name, descr string
	}{
		{&m.HitsCounter, "gojodb.pcache.hits", "Fetches served from a resident page."},
		{&m.MissesCounter, "gojodb.pcache.misses", "Fetches that had to install a page."},
		{&m.EvictionsCounter, "gojodb.pcache.evictions", "Resident pages reclaimed to serve another page."},
		{&m.WritebacksCounter, "gojodb.pcache.writebacks", "Dirty pages written back to the store."},
		{&m.LoadFailuresCounter, "gojodb.pcache.load_failures", "Page loads that failed with an I/O, corruption or context error."},
		{&m.ExhaustedCounter, "gojodb.pcache.exhausted", "Fetches rejected because every slot was pinned."},
	}

	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name,
			metric.WithDescription(c.descr),
			metric.WithUnit("1"),
		)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	pinned, err := meter.Int64UpDownCounter(
		"gojodb.pcache.pinned",
		metric.WithDescription("Number of outstanding pins."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}
	m.PinnedUpDownCounter = pinned

	loadLatency, err := meter.Float64Histogram(
		"gojodb.pcache.load.duration",
		metric.WithDescription("Latency of miss handling, including write-back of the victim."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	m.LoadLatencyHistogram = loadLatency

	return m, nil
}
