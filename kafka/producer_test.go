package kafka

import "testing"

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(ProducerConfig{Topic: "t"})
	if err == nil {
		t.Fatal("expected an error when no brokers are configured")
	}
}

func TestNewProducerRequiresTopic(t *testing.T) {
	_, err := NewProducer(ProducerConfig{Brokers: []string{"localhost:9092"}})
	if err == nil {
		t.Fatal("expected an error when no topic is configured")
	}
}

func TestNewProducerRejectsUnsupportedCompression(t *testing.T) {
	_, err := NewProducer(ProducerConfig{
		Brokers:     []string{"localhost:9092"},
		Topic:       "t",
		Compression: "lz4",
	})
	if err == nil {
		t.Fatal("expected an error for an unsupported compression type")
	}
}

func TestNewProducerRejectsUnsupportedSASLMechanism(t *testing.T) {
	_, err := NewProducer(ProducerConfig{
		Brokers:       []string{"localhost:9092"},
		Topic:         "t",
		SASLUsername:  "user",
		SASLPassword:  "pass",
		SASLMechanism: "SCRAM-SHA-256",
	})
	if err == nil {
		t.Fatal("expected an error for an unsupported SASL mechanism")
	}
}

func TestNewProducerAcceptsMinimalConfig(t *testing.T) {
	p, err := NewProducer(ProducerConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "t",
	})
	if err != nil {
		t.Fatalf("unexpected error constructing producer: %v", err)
	}
	if p.topic != "t" {
		t.Errorf("expected topic %q, got %q", "t", p.topic)
	}
	stats := p.Stats()
	if stats.Sent != 0 || stats.Errors != 0 {
		t.Errorf("expected zeroed stats on a fresh producer, got %+v", stats)
	}
}

func TestPublishRejectsWhenUninitialized(t *testing.T) {
	p := &Producer{}
	if p.Publish(nil, "digest") {
		t.Error("expected Publish to reject on an uninitialized producer")
	}
	if p.Stats().Errors != 1 {
		t.Errorf("expected 1 error recorded, got %d", p.Stats().Errors)
	}
}
