package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odinglyn0/entropygen/internal/dedup"
	"github.com/odinglyn0/entropygen/internal/mixer"
	"github.com/odinglyn0/entropygen/internal/subscriber"
	"github.com/odinglyn0/entropygen/kafka"
	"github.com/rs/zerolog"
)

// Pipeline wires the Endpoint Subscribers through the Dedup Filter and
// Entropy Mixer to the Bus Publisher, under a bounded admission
// semaphore shared by every subscriber's handler.
type Pipeline struct {
	cfg    *Config
	logger zerolog.Logger

	manager  *subscriber.Manager
	filter   *dedup.Filter
	mix      *mixer.Mixer
	producer *kafka.Producer
	governor *MemoryGovernor

	admission chan struct{}

	accepted      uint64
	lastEvictions uint64
	lastTruncated map[string]int64
}

// NewPipeline constructs every component. Producer construction is the
// one fatal initialization failure the caller should treat as
// non-recoverable.
func NewPipeline(cfg *Config, logger zerolog.Logger) (*Pipeline, error) {
	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:           cfg.KafkaBrokerList(),
		Topic:             cfg.KafkaTopic,
		SASLUsername:      cfg.KafkaSASLUsername,
		SASLPassword:      cfg.KafkaSASLPassword,
		SASLMechanism:     cfg.KafkaSASLMechanism,
		SecurityProtocol:  cfg.KafkaSecurityProtocol,
		BatchSize:         cfg.KafkaBatchSize,
		LingerMS:          cfg.KafkaLingerMS,
		Compression:       cfg.KafkaCompressionType,
		MaxInFlight:       cfg.KafkaMaxInFlight,
		BufferMemoryBytes: cfg.KafkaBufferMemory,
		MaxBlockMS:        cfg.KafkaMaxBlockMS,
		Retries:           cfg.KafkaRetries,
		MaxPublishPerSec:  cfg.KafkaMaxPublishPerSec,
		Logger:            &logger,
	})
	if err != nil {
		return nil, err
	}

	filter := dedup.New(cfg.DeduplicationMaxEntries)
	mix := mixer.New(mixer.Config{BatchSize: cfg.MessageBatchSize})

	p := &Pipeline{
		cfg:           cfg,
		logger:        logger.With().Str("component", "pipeline").Logger(),
		filter:        filter,
		mix:           mix,
		producer:      producer,
		admission:     make(chan struct{}, cfg.MessageProcessingBatch),
		lastTruncated: make(map[string]int64),
	}

	governor, err := NewMemoryGovernor(MemoryGovernorConfig{
		Interval:        cfg.MemoryCheckInterval,
		WarningPercent:  cfg.MemoryThresholdPercent,
		CriticalPercent: cfg.MemoryCriticalPercent,
		Mixer:           mix,
		Logger:          &logger,
	})
	if err != nil {
		return nil, err
	}
	p.governor = governor

	endpoints := parseEndpoints(cfg.EndpointEntries(), func(url string, err error) {
		p.logger.Warn().Str("endpoint", url).Err(err).Msg("failed to decode init payload, subscribing without it")
	})

	p.manager = subscriber.NewManager(subscriber.ManagerConfig{
		Endpoints:            endpoints,
		QueueSize:            cfg.MessageQueueMaxSize,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		Handler:              p.handle,
		Logger:               &logger,
	})

	return p, nil
}

// Run starts the memory governor, the metrics gauge-sampling loop, and
// every subscriber, and blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.governor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.sampleGauges(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.manager.Run(ctx)
	}()

	wg.Wait()
}

// handle is invoked by every Subscriber's dispatcher goroutine for each
// received payload. It is admission-controlled, deduplicated, mixed,
// and published.
func (p *Pipeline) handle(ctx context.Context, endpointURL string, payload []byte) {
	messagesObserved.WithLabelValues(endpointURL).Inc()

	select {
	case p.admission <- struct{}{}:
	default:
		messagesRejected.WithLabelValues(rejectReasonAdmissionFull).Inc()
		return
	}
	defer func() { <-p.admission }()

	fingerprint := dedup.Fingerprint(payload)
	if p.filter.Observe(fingerprint) == dedup.Duplicate {
		messagesDuplicate.Inc()
		return
	}
	messagesAdmitted.Inc()

	if n := atomic.AddUint64(&p.accepted, 1); p.cfg.StatsLogIntervalMessages > 0 &&
		int64(n)%p.cfg.StatsLogIntervalMessages == 0 {
		p.logStats(n)
	}

	digest, produced := p.mix.Add(payload)
	if !produced {
		return
	}
	batchesMixed.Inc()

	if p.producer.Publish(ctx, digest) {
		digestsPublished.Inc()
	} else {
		digestsPublishFailed.Inc()
	}
}

func (p *Pipeline) logStats(accepted uint64) {
	dedupStats := p.filter.Stats()
	pubStats := p.producer.Stats()
	p.logger.Info().
		Uint64("accepted", accepted).
		Int("dedup_entries", dedupStats.Entries).
		Float64("dedup_fill_percent", dedupStats.FillPercent).
		Uint64("dedup_evictions", dedupStats.Evictions).
		Uint64("dedup_duplicates", dedupStats.Duplicates).
		Uint64("batches_mixed", p.mix.ProcessedBatches()).
		Uint64("bus_sent", pubStats.Sent).
		Uint64("bus_errors", pubStats.Errors).
		Float64("bus_success_percent", pubStats.SuccessPercent).
		Msg("pipeline stats")
}

// sampleGauges periodically refreshes the gauges that are cheaper to
// poll than to update on every event: dedup fill percentage, mixer
// buffer depth, and per-subscriber queue/connection state.
func (p *Pipeline) sampleGauges(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.filter.Stats()
			dedupFillPercent.Set(stats.FillPercent)
			if stats.Evictions > p.lastEvictions {
				dedupEvictions.Add(float64(stats.Evictions - p.lastEvictions))
				p.lastEvictions = stats.Evictions
			}
			mixerBufferSize.Set(float64(p.mix.BufferSize()))

			for _, sub := range p.manager.Subscribers() {
				url := sub.Endpoint().URL
				subscriberQueueDepth.WithLabelValues(url).Set(float64(sub.QueueDepth()))
				subscriberDropped.WithLabelValues(url).Set(float64(sub.Dropped()))
				subscriberReconnects.WithLabelValues(url).Set(float64(sub.Attempt()))
				connected := 0.0
				if sub.Connected() {
					connected = 1.0
				}
				subscriberConnected.WithLabelValues(url).Set(connected)

				truncated := sub.Truncated()
				if truncated > p.lastTruncated[url] {
					messagesRejected.WithLabelValues(rejectReasonOversized).Add(float64(truncated - p.lastTruncated[url]))
					p.lastTruncated[url] = truncated
				}
			}
		}
	}
}

// Shutdown flushes and closes the Bus Publisher, then emits a final
// statistics log line. The subscriber manager and memory governor stop
// on ctx cancellation in Run; this only drains the one component with
// in-flight network state worth waiting for.
func (p *Pipeline) Shutdown(ctx context.Context) {
	p.producer.Close(ctx)
	p.logStats(atomic.LoadUint64(&p.accepted))
}
