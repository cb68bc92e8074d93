package convert

import (
	"math"
	"testing"
)

func TestDownmixAveragesChannels(t *testing.T) {
	s := &Samples{SampleRate: 8000, Channels: 2, Data: []float64{1, 0, 0.5, -0.5, -1, -1}}

	mono := Downmix(s)
	expected := []float64{0.5, 0, -1}

	if mono.Channels != 1 {
		t.Fatalf("Expected 1 channel, got %d", mono.Channels)
	}
	for i, v := range expected {
		if mono.Data[i] != v {
			t.Errorf("Frame %d: expected %f, got %f", i, v, mono.Data[i])
		}
	}
}

func TestDownmixMonoIsUnchanged(t *testing.T) {
	s := &Samples{SampleRate: 8000, Channels: 1, Data: []float64{0.1, 0.2}}
	if Downmix(s) != s {
		t.Error("Downmix of mono input should return it unchanged")
	}
}

func TestLinearResample(t *testing.T) {
	tests := []struct {
		name     string
		from     int
		to       int
		frames   int
		expected int
	}{
		{"downsample by two", 44100, 22050, 100, 50},
		{"upsample by two", 11025, 22050, 100, 200},
		{"8k to 22050", 8000, 22050, 8000, 22050},
		{"same rate", 22050, 22050, 10, 10},
		{"single frame", 48000, 22050, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Samples{SampleRate: tt.from, Channels: 1, Data: make([]float64, tt.frames)}

			out, err := LinearResample(s, tt.to)
			if err != nil {
				t.Fatalf("LinearResample failed: %v", err)
			}
			if out.Frames() != tt.expected {
				t.Errorf("Expected %d frames, got %d", tt.expected, out.Frames())
			}
			if out.SampleRate != tt.to {
				t.Errorf("Expected rate %d, got %d", tt.to, out.SampleRate)
			}
		})
	}
}

func TestLinearResampleInterpolates(t *testing.T) {
	// Upsampling a ramp by two puts midpoints between the original frames
	s := &Samples{SampleRate: 11025, Channels: 1, Data: []float64{0, 1, 2, 3}}

	out, err := LinearResample(s, 22050)
	if err != nil {
		t.Fatalf("LinearResample failed: %v", err)
	}

	expected := []float64{0, 0.5, 1, 1.5, 2, 2.5, 3, 3}
	for i, v := range expected {
		if math.Abs(out.Data[i]-v) > 1e-12 {
			t.Errorf("Frame %d: expected %f, got %f", i, v, out.Data[i])
		}
	}
}

func TestLinearResampleInvalidRate(t *testing.T) {
	s := &Samples{SampleRate: 8000, Channels: 1, Data: []float64{0}}
	if _, err := LinearResample(s, 0); err == nil {
		t.Error("Expected error for zero target rate")
	}

	s.SampleRate = 0
	if _, err := LinearResample(s, 22050); err == nil {
		t.Error("Expected error for zero source rate")
	}
}

func TestQuantize(t *testing.T) {
	in := []float64{0, 0.5, -0.5, 1, -1, 2, -2, 1.0 / 32768}
	expected := []int16{0, 16384, -16384, 32767, -32768, 32767, -32768, 1}

	out := Quantize(in)
	for i, v := range expected {
		if out[i] != v {
			t.Errorf("Sample %d: expected %d, got %d", i, v, out[i])
		}
	}
}
