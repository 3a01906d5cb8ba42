package wav

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestFrameHeader(t *testing.T) {
	pcm := make([]byte, 320)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}

	out := Frame(pcm)

	if len(out) != len(pcm)+44 {
		t.Fatalf("expected %d bytes, got %d", len(pcm)+44, len(out))
	}
	if string(out[0:4]) != "RIFF" {
		t.Errorf("missing RIFF magic, got %q", out[0:4])
	}
	if string(out[8:12]) != "WAVE" {
		t.Errorf("missing WAVE magic, got %q", out[8:12])
	}
	if string(out[12:16]) != "fmt " {
		t.Errorf("missing fmt chunk, got %q", out[12:16])
	}
	if string(out[36:40]) != "data" {
		t.Errorf("missing data chunk, got %q", out[36:40])
	}
	if got := binary.LittleEndian.Uint32(out[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint16(out[22:24]); got != Channels {
		t.Errorf("channels = %d, want %d", got, Channels)
	}
	if got := binary.LittleEndian.Uint32(out[24:28]); got != SampleRate {
		t.Errorf("sample rate = %d, want %d", got, SampleRate)
	}
	if got := binary.LittleEndian.Uint32(out[28:32]); got != SampleRate*2 {
		t.Errorf("byte rate = %d, want %d", got, SampleRate*2)
	}
	if got := binary.LittleEndian.Uint16(out[34:36]); got != BitsPerSample {
		t.Errorf("bits per sample = %d, want %d", got, BitsPerSample)
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(out[44:], pcm) {
		t.Error("payload bytes do not match input PCM")
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	out := Frame(nil)
	if len(out) != 44 {
		t.Fatalf("expected bare header, got %d bytes", len(out))
	}
	if got := binary.LittleEndian.Uint32(out[40:44]); got != 0 {
		t.Errorf("data size = %d, want 0", got)
	}
}

func TestFrameDoesNotAliasInput(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	out := Frame(pcm)
	pcm[0] = 99
	if out[44] != 1 {
		t.Error("framed output aliases the caller's buffer")
	}
}

func TestChunkBytes(t *testing.T) {
	cases := []struct {
		seconds int
		want    int
	}{
		{5, 160000},
		{15, 480000},
		{30, 960000},
	}
	for _, tc := range cases {
		if got := ChunkBytes(tc.seconds); got != tc.want {
			t.Errorf("ChunkBytes(%d) = %d, want %d", tc.seconds, got, tc.want)
		}
	}
}
