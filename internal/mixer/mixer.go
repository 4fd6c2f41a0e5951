// Package mixer implements the Entropy Mixer: it accumulates accepted
// payloads into fixed-size batches and condenses each completed batch
// into one SHA-512 output digest.
package mixer

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// maxPayloadBytes is the truncation limit applied to any single payload
// before it enters the mixer. The overlong prefix still contributes full
// entropy; the spec treats the tail as possible adversarial padding.
const maxPayloadBytes = 1024 * 1024

// DigestLen is the fixed length, in hex characters, of every emitted
// Output Digest (SHA-512 produces 64 bytes = 128 hex chars).
const DigestLen = 128

// Mixer accumulates payloads into batches of BatchSize and emits one
// digest per completed batch. It is safe for concurrent use: Add may be
// called from multiple admitted handler goroutines at once (see the
// admission semaphore in the pipeline), so the internal buffer is
// guarded by a mutex.
type Mixer struct {
	mu        sync.Mutex
	batchSize int
	buffer    [][]byte // hard cap 2*batchSize; safety belt only
	peppers   []string

	// now is overridable for deterministic tests; defaults to time.Now.
	now func() time.Time

	processedBatches uint64
}

// Config configures a new Mixer.
type Config struct {
	BatchSize int      // B in spec.md; default 10 if <= 0
	Peppers   []string // defaults to DefaultPeppers if nil
}

// New creates a Mixer per cfg.
func New(cfg Config) *Mixer {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	peppers := cfg.Peppers
	if peppers == nil {
		peppers = DefaultPeppers
	}
	return &Mixer{
		batchSize: batchSize,
		peppers:   peppers,
		buffer:    make([][]byte, 0, batchSize*2),
		now:       time.Now,
	}
}

// Add appends payload to the in-flight batch, truncating it to 1 MiB
// first if needed. When the buffer reaches BatchSize, the oldest
// BatchSize payloads are popped atomically and mixed into one digest,
// which is returned. An empty digest with produced=false means the batch
// is not yet full.
func (m *Mixer) Add(payload []byte) (digest string, produced bool) {
	if len(payload) > maxPayloadBytes {
		payload = payload[:maxPayloadBytes]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.buffer = append(m.buffer, payload)
	// Safety belt: never let the buffer grow past twice the batch size.
	// Under the single-dispatcher concurrency model described in the
	// spec this should not trigger; it exists in case feeding briefly
	// outruns consumption.
	if maxBuf := m.batchSize * 2; len(m.buffer) > maxBuf {
		overflow := len(m.buffer) - maxBuf
		m.buffer = m.buffer[overflow:]
	}

	if len(m.buffer) < m.batchSize {
		return "", false
	}

	batch := m.buffer[:m.batchSize]
	rest := make([][]byte, len(m.buffer)-m.batchSize)
	copy(rest, m.buffer[m.batchSize:])
	m.buffer = rest

	digest = m.digest(batch)
	m.processedBatches++
	return digest, true
}

// BufferSize returns the number of payloads currently waiting to form
// the next batch.
func (m *Mixer) BufferSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}

// ClearBuffer discards the in-flight, not-yet-complete batch. Called by
// the Memory Governor under critical memory pressure: losing an
// incomplete batch drops at most BatchSize-1 payloads' contribution to
// one digest.
func (m *Mixer) ClearBuffer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buffer = m.buffer[:0]
}

// ProcessedBatches returns the number of digests produced so far.
func (m *Mixer) ProcessedBatches() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processedBatches
}

// digest implements the deterministic mix described in spec.md §4.3.
// Caller must hold m.mu (only for processedBatches bookkeeping
// consistency; digest itself touches no shared state besides m.now and
// m.peppers, both read-only after construction).
func (m *Mixer) digest(batch [][]byte) string {
	combined := joinBatch(batch)

	seedSum := sha256.Sum256(combined)
	seedHex := hex.EncodeToString(seedSum[:])[:16]
	seed, err := strconv.ParseUint(seedHex, 16, 64)
	if err != nil {
		// Unreachable: seedHex is always 16 valid hex chars from a
		// SHA-256 digest.
		panic(fmt.Sprintf("mixer: invalid seed hex %q: %v", seedHex, err))
	}

	order := shuffledIndices(len(m.peppers), seed)

	h := sha512.Sum512(combined)
	current := h[:]
	for _, idx := range order {
		current = sha512Concat(current, []byte(m.peppers[idx]))
	}

	ts := timestamp(m.now())
	final := sha512Concat(current, ts)

	return hex.EncodeToString(final)
}

// joinBatch concatenates payloads in insertion order.
func joinBatch(batch [][]byte) []byte {
	total := 0
	for _, p := range batch {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range batch {
		out = append(out, p...)
	}
	return out
}

func sha512Concat(prefix, suffix []byte) []byte {
	buf := make([]byte, 0, len(prefix)+len(suffix))
	buf = append(buf, prefix...)
	buf = append(buf, suffix...)
	sum := sha512.Sum512(buf)
	return sum[:]
}

// shuffledIndices returns a Fisher-Yates permutation of [0, n) using a
// PRNG deterministically seeded from seed.
//
// This pins math/rand (stdlib) rather than porting the Python original's
// Mersenne-Twister-seeded shuffle bit-for-bit — see DESIGN.md's Open
// Question decision. Digests are reproducible within this
// implementation but are not cross-language-portable golden values.
func shuffledIndices(n int, seed uint64) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng := rand.New(rand.NewSource(int64(seed)))
	rng.Shuffle(n, func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})
	return order
}

// timestamp renders t as YYYYMMDDhhmmssuuuuuu in UTC, zero-padded, with
// microsecond precision.
func timestamp(t time.Time) []byte {
	u := t.UTC()
	return []byte(fmt.Sprintf("%04d%02d%02d%02d%02d%02d%06d",
		u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond()/1000))
}
