package mixer

import (
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAddReturnsFalseBeforeBatchFull(t *testing.T) {
	m := New(Config{BatchSize: 3})
	for i := 0; i < 2; i++ {
		_, produced := m.Add([]byte{byte(i)})
		if produced {
			t.Fatalf("expected no digest before batch of 3 is full, got one at payload %d", i)
		}
	}
	if got := m.BufferSize(); got != 2 {
		t.Errorf("expected buffer size 2, got %d", got)
	}
}

func TestAddProducesDigestOnFullBatch(t *testing.T) {
	m := New(Config{BatchSize: 3})
	var digest string
	var produced bool
	for i := 0; i < 3; i++ {
		digest, produced = m.Add([]byte{byte(i)})
	}
	if !produced {
		t.Fatalf("expected a digest once batch size is reached")
	}
	if len(digest) != DigestLen {
		t.Errorf("expected digest length %d, got %d", DigestLen, len(digest))
	}
	if m.BufferSize() != 0 {
		t.Errorf("expected buffer to be drained after producing a digest, got size %d", m.BufferSize())
	}
}

func TestDigestIsDeterministicForFixedClock(t *testing.T) {
	clock := fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	m1 := New(Config{BatchSize: 2, Peppers: []string{"A", "B"}})
	m1.now = clock
	m2 := New(Config{BatchSize: 2, Peppers: []string{"A", "B"}})
	m2.now = clock

	var d1, d2 string
	d1, _ = m1.Add([]byte("x"))
	d1, _ = m1.Add([]byte("y"))
	d2, _ = m2.Add([]byte("x"))
	d2, _ = m2.Add([]byte("y"))

	if d1 != d2 {
		t.Errorf("expected identical digests for identical input and clock, got %q and %q", d1, d2)
	}
}

func TestDigestChangesWithTimestamp(t *testing.T) {
	m := New(Config{BatchSize: 2, Peppers: []string{"A", "B"}})
	m.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m.Add([]byte("x"))
	d1, _ := m.Add([]byte("y"))

	m2 := New(Config{BatchSize: 2, Peppers: []string{"A", "B"}})
	m2.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC))
	m2.Add([]byte("x"))
	d2, _ := m2.Add([]byte("y"))

	if d1 == d2 {
		t.Errorf("expected different digests for different timestamps, batch contents being equal")
	}
}

func TestAddTruncatesOversizedPayload(t *testing.T) {
	m := New(Config{BatchSize: 1})
	oversized := make([]byte, maxPayloadBytes+100)
	digest, produced := m.Add(oversized)
	if !produced {
		t.Fatalf("expected a digest for a batch size of 1")
	}
	if len(digest) != DigestLen {
		t.Errorf("expected digest length %d, got %d", DigestLen, len(digest))
	}
}

func TestClearBufferDiscardsInFlightBatch(t *testing.T) {
	m := New(Config{BatchSize: 5})
	m.Add([]byte("a"))
	m.Add([]byte("b"))
	if m.BufferSize() != 2 {
		t.Fatalf("expected buffer size 2 before clear")
	}
	m.ClearBuffer()
	if m.BufferSize() != 0 {
		t.Errorf("expected buffer size 0 after ClearBuffer, got %d", m.BufferSize())
	}
}

func TestProcessedBatchesIncrements(t *testing.T) {
	m := New(Config{BatchSize: 1})
	if m.ProcessedBatches() != 0 {
		t.Fatalf("expected 0 processed batches initially")
	}
	m.Add([]byte("a"))
	m.Add([]byte("b"))
	if m.ProcessedBatches() != 2 {
		t.Errorf("expected 2 processed batches, got %d", m.ProcessedBatches())
	}
}

func TestShuffledIndicesIsAPermutation(t *testing.T) {
	order := shuffledIndices(10, 12345)
	seen := make(map[int]bool, 10)
	for _, idx := range order {
		if idx < 0 || idx >= 10 {
			t.Fatalf("index %d out of range", idx)
		}
		seen[idx] = true
	}
	if len(seen) != 10 {
		t.Errorf("expected a full permutation of 10 distinct indices, got %d", len(seen))
	}
}

func TestShuffledIndicesDeterministicForSameSeed(t *testing.T) {
	a := shuffledIndices(8, 42)
	b := shuffledIndices(8, 42)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected identical permutations for the same seed, differ at index %d", i)
		}
	}
}

func TestTimestampFormat(t *testing.T) {
	ts := string(timestamp(time.Date(2026, 3, 4, 5, 6, 7, 123000, time.UTC)))
	if len(ts) != 20 {
		t.Fatalf("expected 20-char timestamp, got %d (%q)", len(ts), ts)
	}
	if !strings.HasPrefix(ts, "20260304050607") {
		t.Errorf("expected timestamp to start with 20260304050607, got %q", ts)
	}
}
