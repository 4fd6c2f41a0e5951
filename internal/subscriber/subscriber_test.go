package subscriber

import (
	"context"
	"testing"
	"time"
)

func TestDecodeInitPayload(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "simple text", input: "eyJhIjoxMTF9", expected: `{"a":111}`},
		{name: "invalid base64", input: "not-valid-base64!!", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInitPayload(tt.input)
			if tt.expectError {
				if err == nil {
					t.Fatalf("expected an error, got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestOfferDropsOldestWhenFull(t *testing.T) {
	s := New(Config{
		Endpoint:  Endpoint{URL: "wss://example.invalid"},
		QueueSize: 2,
	})

	s.offer([]byte("first"))
	s.offer([]byte("second"))
	if s.QueueDepth() != 2 {
		t.Fatalf("expected queue depth 2, got %d", s.QueueDepth())
	}

	s.offer([]byte("third"))
	if s.QueueDepth() != 2 {
		t.Errorf("expected queue depth to stay at capacity 2, got %d", s.QueueDepth())
	}
	if s.Dropped() != 1 {
		t.Errorf("expected 1 dropped message, got %d", s.Dropped())
	}

	first := <-s.queue
	if string(first.payload) != "second" {
		t.Errorf("expected oldest surviving message to be 'second', got %q", first.payload)
	}
}

func TestQueueCapacityMatchesConfig(t *testing.T) {
	s := New(Config{Endpoint: Endpoint{URL: "wss://example.invalid"}, QueueSize: 5})
	if s.QueueCapacity() != 5 {
		t.Errorf("expected capacity 5, got %d", s.QueueCapacity())
	}
}

func TestNewClampsNonPositiveQueueSize(t *testing.T) {
	s := New(Config{Endpoint: Endpoint{URL: "wss://example.invalid"}, QueueSize: 0})
	if s.QueueCapacity() != 1 {
		t.Errorf("expected queue size to be clamped to 1, got %d", s.QueueCapacity())
	}
}

func TestInitialStateIsIdle(t *testing.T) {
	s := New(Config{Endpoint: Endpoint{URL: "wss://example.invalid"}, QueueSize: 1})
	if s.State() != StateIdle {
		t.Errorf("expected initial state Idle, got %v", s.State())
	}
	if s.Connected() {
		t.Errorf("expected not connected before Run")
	}
}

func TestInvokeHandlerRespectsDeadline(t *testing.T) {
	invoked := make(chan struct{})
	s := New(Config{
		Endpoint:  Endpoint{URL: "wss://example.invalid"},
		QueueSize: 1,
		Handler: func(ctx context.Context, endpointURL string, payload []byte) {
			defer close(invoked)
			select {
			case <-ctx.Done():
			case <-time.After(handlerDeadline * 2):
			}
		},
	})

	start := time.Now()
	s.invokeHandler(context.Background(), []byte("payload"))
	elapsed := time.Since(start)

	if elapsed >= handlerDeadline*2 {
		t.Errorf("expected invokeHandler to return at the deadline, took %v", elapsed)
	}
	<-invoked
}

func TestEndpointGetter(t *testing.T) {
	ep := Endpoint{URL: "wss://example.invalid", InitRequired: true}
	s := New(Config{Endpoint: ep, QueueSize: 1})
	if s.Endpoint() != ep {
		t.Errorf("expected Endpoint() to return the configured endpoint")
	}
}
