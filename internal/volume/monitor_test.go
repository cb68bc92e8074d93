package volume

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/skypro1111/wavecore/internal/audio"
)

type feedInput struct {
	feed chan []byte
	stop chan struct{}
	once sync.Once
}

func newFeedInput() *feedInput {
	return &feedInput{feed: make(chan []byte), stop: make(chan struct{})}
}

func (in *feedInput) Format() audio.PCMFormat {
	return audio.PCMFormat{SampleRate: 22050, Channels: 1, BitDepth: 16}
}

func (in *feedInput) Read() ([]byte, error) {
	select {
	case data, ok := <-in.feed:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-in.stop:
		return nil, io.EOF
	}
}

func (in *feedInput) Close() error {
	in.once.Do(func() { close(in.stop) })
	return nil
}

// recorder collects sink calls
type recorder struct {
	mu     sync.Mutex
	calls  int
	latest float64
}

func (r *recorder) sink(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.latest = v
}

func (r *recorder) snapshot() (int, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls, r.latest
}

func (r *recorder) waitFor(t *testing.T, want float64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		calls, latest := r.snapshot()
		if calls > 0 && math.Abs(latest-want) < 1e-9 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected level %f, last got %f after %d calls", want, latest, calls)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func pcm16(value int16, n int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(value))
	}
	return out
}

func filled(v byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestLevel(t *testing.T) {
	tests := []struct {
		name     string
		window   []byte
		expected float64
	}{
		{"empty", nil, 0},
		{"silence", filled(128, 2048), 0},
		{"all zeros", filled(0, 2048), 1},
		{"max byte", filled(255, 16), 127.0 / 128.0},
		{"half scale", filled(192, 16), 0.5},
		{"alternating extremes", []byte{0, 255, 0, 255}, math.Sqrt((128*128+127*127)/2.0) / 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Level(tt.window)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
			if got < 0 || got > 1 {
				t.Errorf("Level %f outside [0,1]", got)
			}
		})
	}
}

func TestToByte(t *testing.T) {
	tests := []struct {
		input    float64
		expected byte
	}{
		{0, 128},
		{-1, 0},
		{1, 255},
		{0.5, 192},
		{-2, 0},
	}

	for _, tt := range tests {
		if got := toByte(tt.input); got != tt.expected {
			t.Errorf("toByte(%f): expected %d, got %d", tt.input, tt.expected, got)
		}
	}
}

func TestAttachEmitsSilenceImmediately(t *testing.T) {
	input := newFeedInput()
	stream := audio.NewStream(input, nil)
	defer stream.Close()

	rec := &recorder{}
	detach := Attach(stream, rec.sink, WithInterval(time.Hour))
	defer detach()

	rec.waitFor(t, 0)
}

func TestAttachTracksLoudInput(t *testing.T) {
	input := newFeedInput()
	stream := audio.NewStream(input, nil)
	defer stream.Close()

	rec := &recorder{}
	detach := Attach(stream, rec.sink, WithInterval(time.Millisecond), WithWindowSize(64))
	defer detach()

	// Full-scale negative samples map to byte 0
	input.feed <- pcm16(-32768, 64)

	rec.waitFor(t, 1)
}

func TestDetachStopsCallbacks(t *testing.T) {
	input := newFeedInput()
	stream := audio.NewStream(input, nil)
	defer stream.Close()

	rec := &recorder{}
	detach := Attach(stream, rec.sink, WithInterval(time.Millisecond))

	rec.waitFor(t, 0)
	detach()

	calls, _ := rec.snapshot()
	time.Sleep(30 * time.Millisecond)

	if after, _ := rec.snapshot(); after != calls {
		t.Errorf("Expected no callbacks after detach, got %d more", after-calls)
	}

	// Idempotent
	detach()
}

func TestDetachDoesNotBlockCapture(t *testing.T) {
	input := newFeedInput()
	stream := audio.NewStream(input, nil)
	defer stream.Close()

	capture := stream.Subscribe(4, false)

	rec := &recorder{}
	detach := Attach(stream, rec.sink, WithInterval(time.Millisecond))
	detach()

	// The capture consumer keeps receiving after the monitor is gone
	go func() { input.feed <- pcm16(1, 8) }()

	select {
	case chunk := <-capture.C():
		if len(chunk.Data) != 16 {
			t.Errorf("Expected 16 bytes, got %d", len(chunk.Data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Capture subscriber did not receive chunk")
	}
}

func TestSourceEndDecaysToSilence(t *testing.T) {
	input := newFeedInput()
	stream := audio.NewStream(input, nil)

	rec := &recorder{}
	detach := Attach(stream, rec.sink, WithInterval(time.Millisecond), WithWindowSize(32))
	defer detach()

	input.feed <- pcm16(-32768, 32)
	rec.waitFor(t, 1)

	stream.Close()
	rec.waitFor(t, 0)
}
