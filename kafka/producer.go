// Package kafka wraps a franz-go client for the Bus Publisher: an
// asynchronous, batched, at-least-once publisher of entropy digests to
// the downstream message bus.
package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"golang.org/x/time/rate"
)

// ProducerConfig configures the Bus Publisher. Field names mirror the
// Kafka settings table in spec.md §6.
type ProducerConfig struct {
	Brokers           []string
	Topic             string
	SASLUsername      string
	SASLPassword      string
	SASLMechanism     string // only "PLAIN" is wired; others are rejected at construction when credentials are set
	SecurityProtocol  string // "SASL_SSL" enables TLS; anything else dials plaintext
	BatchSize         int
	LingerMS          int
	Compression       string // "snappy" is wired; "" disables compression
	MaxInFlight       int
	BufferMemoryBytes int64
	MaxBlockMS        int
	Retries           int

	// MaxPublishPerSec, if > 0, applies a soft courtesy rate limit on
	// top of the bus's own flow control — distinct from any hard
	// admission semaphore elsewhere in the pipeline.
	MaxPublishPerSec int

	Logger *zerolog.Logger
}

// Producer is the Bus Publisher.
type Producer struct {
	client *kgo.Client
	topic  string
	logger zerolog.Logger
	limiter *rate.Limiter

	maxBlock time.Duration

	sendCount  uint64
	errorCount uint64

	closeOnce sync.Once
}

// NewProducer constructs the franz-go client and returns a ready
// Producer. A construction failure here is the pipeline's one fatal
// initialisation error (spec.md §7): the caller should propagate it and
// exit non-zero.
func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProducerBatchMaxBytes(int32(cfg.BatchSize)),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS) * time.Millisecond),
		kgo.MaxBufferedBytes(uint64(cfg.BufferMemoryBytes)),
		kgo.RecordRetries(cfg.Retries),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProduceRequestTimeout(time.Duration(cfg.MaxBlockMS) * time.Millisecond),
	}

	if cfg.MaxInFlight > 0 {
		opts = append(opts, kgo.MaxProduceRequestsInflightPerBroker(cfg.MaxInFlight))
	}

	switch cfg.Compression {
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "":
		// no compression
	default:
		return nil, fmt.Errorf("kafka: unsupported compression %q", cfg.Compression)
	}

	if cfg.SecurityProtocol == "SASL_SSL" {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}

	if cfg.SASLUsername != "" || cfg.SASLPassword != "" {
		if cfg.SASLMechanism != "" && cfg.SASLMechanism != "PLAIN" {
			return nil, fmt.Errorf("kafka: unsupported SASL mechanism %q", cfg.SASLMechanism)
		}
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.SASLUsername,
			Pass: cfg.SASLPassword,
		}.AsMechanism()))
	}

	p := &Producer{
		topic:    cfg.Topic,
		maxBlock: time.Duration(cfg.MaxBlockMS) * time.Millisecond,
	}
	if cfg.Logger != nil {
		p.logger = cfg.Logger.With().Str("component", "bus_publisher").Logger()
	} else {
		p.logger = zerolog.Nop()
	}

	if cfg.MaxPublishPerSec > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxPublishPerSec), cfg.MaxPublishPerSec*2)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create producer client: %w", err)
	}
	p.client = client

	p.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Msg("Bus Publisher initialized")

	return p, nil
}

// Publish enqueues digest for asynchronous delivery. It returns
// (accepted=true) once the record has been handed to the client's
// internal buffer — not once it has been acknowledged by the broker.
// The broker acknowledgement is tracked asynchronously in the produce
// callback. A rejected publish increments the error counter; the
// pipeline never retries a rejected publish itself.
func (p *Producer) Publish(ctx context.Context, digest string) (accepted bool) {
	if p.client == nil {
		atomic.AddUint64(&p.errorCount, 1)
		p.logger.Error().Msg("publish rejected: producer not initialized")
		return false
	}

	if p.limiter != nil && !p.limiter.Allow() {
		atomic.AddUint64(&p.errorCount, 1)
		p.logger.Warn().Msg("publish rejected: publish rate limit exceeded")
		return false
	}

	record := &kgo.Record{Topic: p.topic, Value: []byte(digest)}

	// TryProduce enqueues without blocking: it errors immediately if the
	// client's buffer is full rather than waiting. The broker-side
	// round-trip deadline (MaxBlockMS) is enforced by the client's own
	// ProduceRequestTimeout option set at construction.
	if err := p.client.TryProduce(ctx, record, p.onProduceResult); err != nil {
		atomic.AddUint64(&p.errorCount, 1)
		p.logger.Error().Err(err).Msg("publish rejected: enqueue failed")
		return false
	}
	return true
}

// onProduceResult is invoked by the franz-go client once a record's
// delivery to the broker succeeds or permanently fails (after the
// client's own configured retries).
func (p *Producer) onProduceResult(r *kgo.Record, err error) {
	if err != nil {
		atomic.AddUint64(&p.errorCount, 1)
		p.logger.Error().
			Err(err).
			Str("topic", r.Topic).
			Msg("bus publish failed")
		return
	}

	atomic.AddUint64(&p.sendCount, 1)
	p.logger.Debug().
		Str("topic", r.Topic).
		Int32("partition", r.Partition).
		Int64("offset", r.Offset).
		Msg("bus publish acknowledged")
}

// Flush blocks up to deadline waiting for all in-flight and buffered
// records to be sent.
func (p *Producer) Flush(ctx context.Context) error {
	if p.client == nil {
		return nil
	}
	return p.client.Flush(ctx)
}

// Close flushes then tears down the underlying client. Safe to call
// multiple times.
func (p *Producer) Close(ctx context.Context) {
	p.closeOnce.Do(func() {
		if p.client == nil {
			return
		}
		if err := p.Flush(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("flush before close did not fully drain")
		}
		p.client.Close()
		p.logger.Info().
			Uint64("sent", atomic.LoadUint64(&p.sendCount)).
			Uint64("errors", atomic.LoadUint64(&p.errorCount)).
			Msg("Bus Publisher closed")
	})
}

// Stats is a point-in-time snapshot of publisher counters.
type Stats struct {
	Sent           uint64
	Errors         uint64
	SuccessPercent float64
}

// Stats returns send/error counters and the derived success percentage.
func (p *Producer) Stats() Stats {
	sent := atomic.LoadUint64(&p.sendCount)
	errs := atomic.LoadUint64(&p.errorCount)
	total := sent + errs
	successPct := 0.0
	if total > 0 {
		successPct = float64(sent) / float64(total) * 100
	}
	return Stats{Sent: sent, Errors: errs, SuccessPercent: successPct}
}
