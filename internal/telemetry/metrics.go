package telemetry

import "go.opentelemetry.io/otel/metric"

// Metrics holds the instruments the Public API and background workers
// report to, backing /api/stats' latency percentiles.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	SearchDuration   metric.Float64Histogram
	EmbedDuration    metric.Float64Histogram
	IngestQueueDepth metric.Int64UpDownCounter
	IngestFailures   metric.Int64Counter
	ReplicatorPushed metric.Int64Counter
}

// NewMetrics registers every instrument on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("opencodemem.request.duration",
		metric.WithDescription("Public API request duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	m.SearchDuration, err = meter.Float64Histogram("opencodemem.search.duration",
		metric.WithDescription("Search orchestrator duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	m.EmbedDuration, err = meter.Float64Histogram("opencodemem.embed.duration",
		metric.WithDescription("Embedding provider call duration in seconds"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	m.IngestQueueDepth, err = meter.Int64UpDownCounter("opencodemem.ingest.queue_depth",
		metric.WithDescription("Pending message count in the durable queue"))
	if err != nil {
		return nil, err
	}
	m.IngestFailures, err = meter.Int64Counter("opencodemem.ingest.failures",
		metric.WithDescription("Ingest dispatch failures"))
	if err != nil {
		return nil, err
	}
	m.ReplicatorPushed, err = meter.Int64Counter("opencodemem.replicator.pushed",
		metric.WithDescription("Observations pushed to the external vector collection"))
	if err != nil {
		return nil, err
	}
	return m, nil
}
