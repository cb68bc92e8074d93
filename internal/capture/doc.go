// Package capture manages live microphone recordings. A Recorder allows one
// active Session at a time; the session buffers raw chunks in arrival order
// and, when stopped, hands the concatenated audio to the converter once.
package capture
