package convert

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE

	// cbSize, valid bits, channel mask and the SubFormat GUID follow the
	// 16 byte base of an extensible fmt chunk
	extensibleFmtSize  = 40
	extensibleCbSize   = 22
	extensibleCbOffset = 16
	subFormatOffset    = 24
)

// NativeBackend decodes RIFF/WAVE PCM in process with go-audio/wav.
// It supports 8, 16, 24 and 32-bit integer samples with any channel count.
// Extensible files are accepted only when their SubFormat is integer PCM, so
// float data reaches the next backend in a chain.
type NativeBackend struct{}

// Name returns "native"
func (NativeBackend) Name() string { return BackendNative }

// NewDecoder returns a fresh WAV decoder
func (NativeBackend) NewDecoder() (Decoder, error) {
	return &nativeDecoder{}, nil
}

type nativeDecoder struct{}

func (d *nativeDecoder) Decode(ctx context.Context, data []byte) (*Samples, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConversionError{Kind: ErrEngineFailure, Err: err}
	}

	if len(data) == 0 {
		return nil, unsupported("empty input")
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, unsupported("not a valid WAV file")
	}

	switch dec.WavAudioFormat {
	case wavFormatPCM:
	case wavFormatExtensible:
		sub, err := extensibleSubFormat(data)
		if err != nil {
			return nil, unsupported("WAV extensible header: %v", err)
		}
		if sub != wavFormatPCM {
			return nil, unsupported("WAV extensible subformat %d is not integer PCM", sub)
		}
	default:
		return nil, unsupported("WAV audio format %d is not integer PCM", dec.WavAudioFormat)
	}

	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, unsupported("WAV bit depth %d", dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, unsupported("read PCM data: %v", err)
	}

	return samplesFromBuffer(buf, int(dec.BitDepth))
}

// extensibleSubFormat returns the format code carried in the first two
// bytes of the SubFormat GUID of a WAVE_FORMAT_EXTENSIBLE fmt chunk.
func extensibleSubFormat(data []byte) (uint16, error) {
	p := riff.New(bytes.NewReader(data))
	if err := p.ParseHeaders(); err != nil {
		return 0, err
	}

	for {
		ch, err := p.NextChunk()
		if err != nil {
			if err == io.EOF {
				return 0, errors.New("no fmt chunk")
			}
			return 0, err
		}
		if ch.ID != riff.FmtID {
			ch.Drain()
			continue
		}

		if ch.Size < extensibleFmtSize {
			return 0, errors.New("fmt chunk too short for extensible format")
		}
		body := make([]byte, extensibleFmtSize)
		if _, err := io.ReadFull(ch, body); err != nil {
			return 0, err
		}
		if cb := binary.LittleEndian.Uint16(body[extensibleCbOffset:]); cb < extensibleCbSize {
			return 0, errors.New("extensible cbSize too small")
		}
		return binary.LittleEndian.Uint16(body[subFormatOffset:]), nil
	}
}

func (d *nativeDecoder) Resample(s *Samples, rate int) (*Samples, error) {
	return LinearResample(s, rate)
}

func (d *nativeDecoder) Close() error { return nil }

// samplesFromBuffer normalizes a go-audio buffer to [-1, 1].
// go-audio reports 8-bit WAV samples unsigned, centred on 128.
func samplesFromBuffer(buf *goaudio.IntBuffer, bitDepth int) (*Samples, error) {
	if buf == nil || buf.Format == nil {
		return nil, unsupported("missing PCM format")
	}

	channels := buf.Format.NumChannels
	rate := buf.Format.SampleRate
	if channels < 1 || rate < 1 {
		return nil, unsupported("invalid format: %d channels at %d Hz", channels, rate)
	}

	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, unsupported("no audio samples")
	}

	out := make([]float64, frames*channels)
	if bitDepth == 8 {
		for i := range out {
			out[i] = (float64(buf.Data[i]) - 128) / 128
		}
	} else {
		scale := float64(int64(1) << (bitDepth - 1))
		for i := range out {
			out[i] = float64(buf.Data[i]) / scale
		}
	}

	return &Samples{SampleRate: rate, Channels: channels, Data: out}, nil
}
