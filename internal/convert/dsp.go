package convert

import (
	"math"
)

// Downmix averages all channels of s into one
func Downmix(s *Samples) *Samples {
	if s.Channels <= 1 {
		return s
	}

	frames := s.Frames()
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		base := i * s.Channels
		for ch := 0; ch < s.Channels; ch++ {
			sum += s.Data[base+ch]
		}
		out[i] = sum / float64(s.Channels)
	}

	return &Samples{SampleRate: s.SampleRate, Channels: 1, Data: out}
}

// LinearResample converts s to rate by linear interpolation between
// neighbouring frames. The output has round(frames * rate / s.SampleRate) frames.
func LinearResample(s *Samples, rate int) (*Samples, error) {
	if rate <= 0 {
		return nil, engineFailure("target sample rate must be positive, got %d", rate)
	}
	if s.SampleRate <= 0 {
		return nil, engineFailure("source sample rate must be positive, got %d", s.SampleRate)
	}
	if s.SampleRate == rate {
		return s, nil
	}

	frames := s.Frames()
	if frames == 0 {
		return &Samples{SampleRate: rate, Channels: s.Channels}, nil
	}

	outFrames := int(math.Round(float64(frames) * float64(rate) / float64(s.SampleRate)))
	if outFrames < 1 {
		outFrames = 1
	}

	ratio := float64(s.SampleRate) / float64(rate)
	out := make([]float64, outFrames*s.Channels)

	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		if idx >= frames-1 {
			idx = frames - 1
			frac = 0
		}

		for ch := 0; ch < s.Channels; ch++ {
			a := s.Data[idx*s.Channels+ch]
			v := a
			if frac > 0 {
				b := s.Data[(idx+1)*s.Channels+ch]
				v = a + (b-a)*frac
			}
			out[i*s.Channels+ch] = v
		}
	}

	return &Samples{SampleRate: rate, Channels: s.Channels, Data: out}, nil
}

// Quantize converts normalized values to signed 16-bit samples,
// rounding to nearest and clamping to the int16 range
func Quantize(data []float64) []int16 {
	out := make([]int16, len(data))
	for i, v := range data {
		q := math.Round(v * 32768)
		if q > math.MaxInt16 {
			q = math.MaxInt16
		} else if q < math.MinInt16 {
			q = math.MinInt16
		}
		out[i] = int16(q)
	}
	return out
}
