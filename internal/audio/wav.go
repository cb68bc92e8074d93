package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// CanonicalSampleRate is the sample rate of every converted waveform
	CanonicalSampleRate = 22050
	// CanonicalChannels is the channel count of every converted waveform
	CanonicalChannels = 1
	// CanonicalBitDepth is the bit depth of every converted waveform
	CanonicalBitDepth = 16
	// HeaderSize is the size of the canonical RIFF/WAVE header
	HeaderSize = 44

	formatPCM = 1
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// newHeader builds a 44-byte PCM header for dataSize bytes of audio in the given format
func newHeader(format PCMFormat, dataSize uint32) WAVHeader {
	blockAlign := uint16(format.BytesPerFrame())

	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: uint16(format.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeCanonical encodes mono PCM-16 samples at 22050 Hz into WAV format
func EncodeCanonical(samples []int16) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	dataSize := uint32(len(samples) * 2)
	header := newHeader(CanonicalFormat(), dataSize)

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// FramePCM wraps raw interleaved PCM bytes in a WAV header describing format.
// Capture sessions use it to hand microphone data to the converter as a regular file.
func FramePCM(data []byte, format PCMFormat) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	frame := format.BytesPerFrame()
	if len(data)%frame != 0 {
		return nil, fmt.Errorf("pcm data length %d is not a multiple of frame size %d", len(data), frame)
	}

	header := newHeader(format, uint32(len(data)))

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(data)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(data)

	return buf.Bytes(), nil
}

// ValidateWAV validates a 44-byte-header WAV file without decoding the audio data
func ValidateWAV(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", HeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// ValidateCanonical checks that data is a WAV file in the canonical
// mono, 22050 Hz, 16-bit PCM format with a consistent data size
func ValidateCanonical(data []byte) error {
	info, err := GetWAVInfo(data)
	if err != nil {
		return err
	}

	if info.AudioFormat != formatPCM {
		return fmt.Errorf("audio format must be PCM, got %d", info.AudioFormat)
	}
	if info.Channels != CanonicalChannels {
		return fmt.Errorf("channels must be %d, got %d", CanonicalChannels, info.Channels)
	}
	if info.SampleRate != CanonicalSampleRate {
		return fmt.Errorf("sample rate must be %d, got %d", CanonicalSampleRate, info.SampleRate)
	}
	if info.BitsPerSample != CanonicalBitDepth {
		return fmt.Errorf("bits per sample must be %d, got %d", CanonicalBitDepth, info.BitsPerSample)
	}
	if int(info.DataSize) != len(data)-HeaderSize {
		return fmt.Errorf("data size %d does not match payload of %d bytes", info.DataSize, len(data)-HeaderSize)
	}

	return nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	AudioFormat   uint16  `json:"audio_format"`
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumFrames     uint32  `json:"num_frames"`
}

// GetWAVInfo extracts metadata from a WAV file with a 44-byte header
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if header.BlockAlign == 0 {
		return nil, fmt.Errorf("invalid block align: 0")
	}

	numFrames := header.Subchunk2Size / uint32(header.BlockAlign)

	return &WAVInfo{
		AudioFormat:   header.AudioFormat,
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numFrames) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumFrames:     numFrames,
	}, nil
}

// DecodeCanonical returns the samples of a canonical WAV file
func DecodeCanonical(data []byte) ([]int16, error) {
	if err := ValidateCanonical(data); err != nil {
		return nil, err
	}

	samples := make([]int16, (len(data)-HeaderSize)/2)
	if err := binary.Read(bytes.NewReader(data[HeaderSize:]), binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, nil
}
