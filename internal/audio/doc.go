// Package audio holds the audio primitives shared by the conversion and capture
// pipelines: immutable media blobs, canonical WAV framing, the ordered chunk
// buffer used by recordings and the fan-out stream over a live input.
package audio
