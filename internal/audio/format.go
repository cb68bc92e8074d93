package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// PCMFormat describes interleaved little-endian PCM data.
// 8-bit samples are unsigned, wider samples are signed.
type PCMFormat struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

// CanonicalFormat returns the format every converter output uses
func CanonicalFormat() PCMFormat {
	return PCMFormat{
		SampleRate: CanonicalSampleRate,
		Channels:   CanonicalChannels,
		BitDepth:   CanonicalBitDepth,
	}
}

// Validate checks that the format can be framed and decoded
func (f PCMFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}

	if f.Channels < 1 || f.Channels > 32 {
		return fmt.Errorf("channels must be between 1 and 32, got %d", f.Channels)
	}

	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("bit depth must be one of [8, 16, 24, 32], got %d", f.BitDepth)
	}

	return nil
}

// BytesPerFrame returns the size of one interleaved frame
func (f PCMFormat) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// Duration returns the playback time of n bytes in this format
func (f PCMFormat) Duration(n int) time.Duration {
	frame := f.BytesPerFrame()
	if frame == 0 || f.SampleRate == 0 {
		return 0
	}
	frames := n / frame
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// SampleAt returns the sample starting at byte offset off, normalized to [-1, 1)
func (f PCMFormat) SampleAt(data []byte, off int) float64 {
	switch f.BitDepth {
	case 8:
		return (float64(data[off]) - 128) / 128
	case 16:
		return float64(int16(binary.LittleEndian.Uint16(data[off:]))) / 32768
	case 24:
		v := int32(data[off]) | int32(data[off+1])<<8 | int32(data[off+2])<<16
		if v&0x800000 != 0 {
			v |= ^0xffffff
		}
		return float64(v) / 8388608
	case 32:
		return float64(int32(binary.LittleEndian.Uint32(data[off:]))) / 2147483648
	}
	return 0
}

// MonoFrames downmixes interleaved PCM bytes into one averaged value per frame.
// A trailing partial frame is ignored.
func (f PCMFormat) MonoFrames(data []byte) []float64 {
	frame := f.BytesPerFrame()
	if frame == 0 {
		return nil
	}

	width := f.BitDepth / 8
	out := make([]float64, len(data)/frame)
	for i := range out {
		base := i * frame
		var sum float64
		for ch := 0; ch < f.Channels; ch++ {
			sum += f.SampleAt(data, base+ch*width)
		}
		out[i] = sum / float64(f.Channels)
	}

	return out
}
