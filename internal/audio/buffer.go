package audio

import (
	"fmt"
	"sync"
	"time"
)

// ChunkBuffer accumulates raw capture chunks for one recording.
// Chunks are appended in sequence order; chunks that arrive early are held
// until the gap before them is filled.
type ChunkBuffer struct {
	format PCMFormat

	// Audio data storage
	data []byte

	// Sequence tracking
	started     bool
	lastSeq     uint64            // Last appended sequence number
	expectedSeq uint64            // Next expected sequence number
	pending     map[uint64][]byte // Early chunks waiting for the gap to close

	// Timing and metadata
	firstUpdate time.Time
	lastUpdate  time.Time
	totalChunks uint64
	duplicates  uint64

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	TotalChunks  uint64  `json:"total_chunks"`
	Duplicates   uint64  `json:"duplicate_chunks"`
	PendingSeqs  int     `json:"pending_sequences"`
	BufferBytes  int     `json:"buffer_bytes"`
	Duration     float64 `json:"duration_seconds"`
	LastSequence uint64  `json:"last_sequence"`
}

// NewChunkBuffer creates an empty buffer for chunks in the given format
func NewChunkBuffer(format PCMFormat) *ChunkBuffer {
	return &ChunkBuffer{
		format:  format,
		data:    make([]byte, 0, format.SampleRate*format.BytesPerFrame()), // one second
		pending: make(map[uint64][]byte),
	}
}

// Add stores a chunk. The first chunk added fixes the starting sequence.
func (b *ChunkBuffer) Add(seq uint64, chunk []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if frame := b.format.BytesPerFrame(); frame > 0 && len(chunk)%frame != 0 {
		return fmt.Errorf("chunk length %d is not a multiple of frame size %d", len(chunk), frame)
	}

	now := time.Now()
	if !b.started {
		b.started = true
		b.expectedSeq = seq
		b.lastSeq = seq - 1
		b.firstUpdate = now
	}
	b.lastUpdate = now
	b.totalChunks++

	switch {
	case seq == b.expectedSeq:
		b.data = append(b.data, chunk...)
		b.lastSeq = seq
		b.expectedSeq = seq + 1
		b.drainPending()

	case seq > b.expectedSeq:
		if _, exists := b.pending[seq]; exists {
			b.duplicates++
			return fmt.Errorf("ignoring duplicate chunk: seq=%d", seq)
		}
		buf := make([]byte, len(chunk))
		copy(buf, chunk)
		b.pending[seq] = buf

	default:
		b.duplicates++
		return fmt.Errorf("ignoring old/duplicate chunk: seq=%d, lastSeq=%d", seq, b.lastSeq)
	}

	return nil
}

// drainPending appends buffered chunks that now follow in order
func (b *ChunkBuffer) drainPending() {
	for {
		chunk, exists := b.pending[b.expectedSeq]
		if !exists {
			return
		}

		b.data = append(b.data, chunk...)
		delete(b.pending, b.expectedSeq)

		b.lastSeq = b.expectedSeq
		b.expectedSeq++
	}
}

// Flush appends any held chunks in sequence order, skipping over gaps.
// It is called once the producer has stopped.
func (b *ChunkBuffer) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.pending) > 0 {
		var next uint64
		first := true
		for seq := range b.pending {
			if first || seq < next {
				next = seq
				first = false
			}
		}
		b.expectedSeq = next
		b.drainPending()
	}
}

// Bytes returns a copy of the ordered audio data
func (b *ChunkBuffer) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Len returns the number of ordered bytes held
func (b *ChunkBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Chunks returns the number of chunks accepted so far
func (b *ChunkBuffer) Chunks() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalChunks - b.duplicates
}

// Format returns the PCM format of the buffered data
func (b *ChunkBuffer) Format() PCMFormat {
	return b.format
}

// GetLastUpdate returns the time of the last chunk
func (b *ChunkBuffer) GetLastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}

// GetStats returns current buffer statistics
func (b *ChunkBuffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		TotalChunks:  b.totalChunks,
		Duplicates:   b.duplicates,
		PendingSeqs:  len(b.pending),
		BufferBytes:  len(b.data),
		Duration:     b.format.Duration(len(b.data)).Seconds(),
		LastSequence: b.lastSeq,
	}
}
