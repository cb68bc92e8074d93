package audio

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Input is a live PCM source such as a microphone
type Input interface {
	// Format describes the bytes returned by Read
	Format() PCMFormat
	// Read blocks until the next buffer is available. It returns io.EOF once
	// the input has ended or was closed.
	Read() ([]byte, error)
	// Close releases the underlying device. Pending Reads return io.EOF.
	Close() error
}

// Chunk is one buffer read from an Input
type Chunk struct {
	Seq  uint64
	Data []byte
	At   time.Time
}

// Stream reads an Input on a single goroutine and fans the chunks out to
// any number of subscribers. Lossless subscribers apply backpressure;
// lossy subscribers drop chunks when they fall behind.
type Stream struct {
	input  Input
	format PCMFormat
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	seq    uint64
	ended  bool
	err    error
	closed atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Subscription receives chunks from a Stream
type Subscription struct {
	stream  *Stream
	ch      chan Chunk
	cancel  chan struct{}
	lossy   bool
	dropped atomic.Uint64
	once    sync.Once
}

// NewStream starts pumping input. The stream ends when the input returns
// an error or when Close is called.
func NewStream(input Input, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Stream{
		input:  input,
		format: input.Format(),
		logger: logger,
		subs:   make(map[*Subscription]struct{}),
		done:   make(chan struct{}),
	}

	go s.pump()

	return s
}

// pump is the only reader of the input
func (s *Stream) pump() {
	defer close(s.done)

	for {
		data, err := s.input.Read()
		if err != nil {
			s.finish(err)
			return
		}
		if len(data) == 0 {
			continue
		}

		buf := make([]byte, len(data))
		copy(buf, data)

		s.mu.Lock()
		s.seq++
		chunk := Chunk{Seq: s.seq, Data: buf, At: time.Now()}
		for sub := range s.subs {
			sub.deliver(chunk)
		}
		s.mu.Unlock()
	}
}

// finish records the terminal error and closes every subscriber channel
func (s *Stream) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !errors.Is(err, io.EOF) && !s.closed.Load() {
		s.err = err
		s.logger.Warn("Audio input failed", slog.String("error", err.Error()))
	}

	s.ended = true
	for sub := range s.subs {
		close(sub.ch)
		delete(s.subs, sub)
	}
}

// Format returns the PCM format of the chunks
func (s *Stream) Format() PCMFormat {
	return s.format
}

// Subscribe registers a consumer with a channel of the given capacity.
// Subscribing to an ended stream returns a subscription whose channel is closed.
func (s *Stream) Subscribe(size int, lossy bool) *Subscription {
	if size < 1 {
		size = 1
	}

	sub := &Subscription{
		stream: s,
		ch:     make(chan Chunk, size),
		cancel: make(chan struct{}),
		lossy:  lossy,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		close(sub.ch)
		return sub
	}
	s.subs[sub] = struct{}{}

	return sub
}

// Close stops the input and waits for the pump to exit
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.input.Close()
	})
	<-s.done
	return s.closeErr
}

// Done is closed after the last chunk has been delivered
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns the input failure that ended the stream, if any
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Chunks returns the number of chunks read so far
func (s *Stream) Chunks() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// deliver is called with the stream lock held
func (sub *Subscription) deliver(chunk Chunk) {
	if sub.lossy {
		select {
		case sub.ch <- chunk:
		default:
			sub.dropped.Add(1)
		}
		return
	}

	select {
	case sub.ch <- chunk:
	case <-sub.cancel:
	}
}

// C returns the chunk channel. It is closed when the stream ends,
// but not when the subscription is cancelled.
func (sub *Subscription) C() <-chan Chunk {
	return sub.ch
}

// Cancel detaches the subscription. After Cancel returns no further
// chunks are sent to C.
func (sub *Subscription) Cancel() {
	sub.once.Do(func() {
		close(sub.cancel)

		sub.stream.mu.Lock()
		delete(sub.stream.subs, sub)
		sub.stream.mu.Unlock()
	})
}

// Cancelled is closed once Cancel has been called
func (sub *Subscription) Cancelled() <-chan struct{} {
	return sub.cancel
}

// Dropped returns the number of chunks a lossy subscriber missed
func (sub *Subscription) Dropped() uint64 {
	return sub.dropped.Load()
}
