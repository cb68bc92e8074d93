// Package convert normalizes arbitrary media into canonical audio: mono,
// 22050 Hz, signed 16-bit little-endian PCM in a 44-byte WAV header.
//
// Decoding is delegated to a Backend. Every conversion obtains its own
// Decoder, so concurrent conversions never share decoder state and always
// produce the same bytes as sequential ones.
package convert
