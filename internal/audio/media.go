package audio

import (
	"fmt"
	"path/filepath"
	"strings"
)

// WAVContentType is the type tag carried by every canonical output
const WAVContentType = "audio/wav"

// MediaBlob is an immutable media payload with its file name and type tag.
// The bytes are copied on construction and never exposed for mutation.
type MediaBlob struct {
	name        string
	contentType string
	data        []byte
}

// NewMediaBlob creates a blob holding a private copy of data
func NewMediaBlob(name, contentType string, data []byte) MediaBlob {
	buf := make([]byte, len(data))
	copy(buf, data)

	return MediaBlob{
		name:        name,
		contentType: contentType,
		data:        buf,
	}
}

// Name returns the file name of the blob
func (b MediaBlob) Name() string { return b.name }

// ContentType returns the MIME-like type tag
func (b MediaBlob) ContentType() string { return b.contentType }

// Len returns the payload size in bytes
func (b MediaBlob) Len() int { return len(b.data) }

// Bytes returns a copy of the payload
func (b MediaBlob) Bytes() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// View returns the payload without copying. Callers must not modify it.
func (b MediaBlob) View() []byte { return b.data }

// CanonicalAudio is a WAV file guaranteed to be mono, 22050 Hz, 16-bit PCM
// with a 44-byte header.
type CanonicalAudio struct {
	name string
	data []byte
}

// NewCanonicalAudio wraps data after checking it is in canonical format
func NewCanonicalAudio(name string, data []byte) (CanonicalAudio, error) {
	if err := ValidateCanonical(data); err != nil {
		return CanonicalAudio{}, fmt.Errorf("not canonical audio: %w", err)
	}

	return CanonicalAudio{name: name, data: data}, nil
}

// Name returns the output file name (always ending in .wav)
func (c CanonicalAudio) Name() string { return c.name }

// ContentType always returns audio/wav
func (c CanonicalAudio) ContentType() string { return WAVContentType }

// Len returns the file size including the header
func (c CanonicalAudio) Len() int { return len(c.data) }

// Bytes returns a copy of the WAV file
func (c CanonicalAudio) Bytes() []byte {
	out := make([]byte, len(c.data))
	copy(out, c.data)
	return out
}

// View returns the WAV file without copying. Callers must not modify it.
func (c CanonicalAudio) View() []byte { return c.data }

// Duration returns the playback length in seconds
func (c CanonicalAudio) Duration() float64 {
	return float64(len(c.data)-HeaderSize) / 2 / CanonicalSampleRate
}

// Blob returns the audio as a MediaBlob for transmission
func (c CanonicalAudio) Blob() MediaBlob {
	return NewMediaBlob(c.name, WAVContentType, c.data)
}

// IsZero reports whether c was never produced by a conversion
func (c CanonicalAudio) IsZero() bool { return c.data == nil }

// WAVFileName replaces the extension of name with .wav, or appends .wav
// when name has none
func WAVFileName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == "/" || base == "" {
		return "audio.wav"
	}

	ext := filepath.Ext(base)
	if ext == "" || ext == base {
		return base + ".wav"
	}

	return strings.TrimSuffix(base, ext) + ".wav"
}
