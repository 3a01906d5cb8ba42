// Package wav wraps raw PCM byte runs in a canonical RIFF/WAVE header so a
// transcription service can consume chunks as standalone files.
package wav

import "encoding/binary"

// Canonical pipeline audio format: what the decoder subprocess emits.
const (
	SampleRate    = 16000
	Channels      = 1
	BitsPerSample = 16
)

const headerSize = 44

// Frame returns pcm prefixed with a 44-byte WAV header describing the
// canonical mono 16 kHz 16-bit little-endian format.
func Frame(pcm []byte) []byte {
	return FrameAs(pcm, SampleRate, Channels, BitsPerSample)
}

// FrameAs builds the header for an arbitrary PCM format. The data payload is
// copied so callers may reuse the input buffer.
func FrameAs(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, headerSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16) // PCM fmt chunk size
	binary.LittleEndian.PutUint16(out[20:22], 1)  // audio format: PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], uint16(bitsPerSample))
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerSize:], pcm)
	return out
}

// ChunkBytes returns the PCM byte length of one chunk of the given duration
// in the canonical format.
func ChunkBytes(chunkSeconds int) int {
	return chunkSeconds * SampleRate * Channels * BitsPerSample / 8
}
