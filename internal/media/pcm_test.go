package media

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func pcmSamples(values ...int16) []byte {
	out := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestEncodeDecodeFrameLengths(t *testing.T) {
	pcm := make([]byte, PCMU().PCMBytesPerFrame())
	tests := []struct {
		name        string
		codec       Codec
		wantPayload int
	}{
		{"pcmu", PCMU(), 160},
		{"pcma", PCMA(), 160},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := encodeFrame(tt.codec, pcm)
			if err != nil {
				t.Fatalf("encodeFrame() error = %v", err)
			}
			if len(payload) != tt.wantPayload {
				t.Fatalf("payload length = %d, want %d", len(payload), tt.wantPayload)
			}
			decoded, err := decodeFrame(tt.codec, payload)
			if err != nil {
				t.Fatalf("decodeFrame() error = %v", err)
			}
			if len(decoded) != len(pcm) {
				t.Errorf("decoded length = %d, want %d", len(decoded), len(pcm))
			}
		})
	}
}

func TestEncodeFrameL16Roundtrip(t *testing.T) {
	pcm := pcmSamples(0, 1, -1, 12345, -12345, 32767, -32768)
	wire, err := encodeFrame(L16(), pcm)
	if err != nil {
		t.Fatalf("encodeFrame() error = %v", err)
	}
	if bytes.Equal(wire, pcm) {
		t.Fatal("wire bytes should be byte swapped")
	}
	back, err := decodeFrame(L16(), wire)
	if err != nil {
		t.Fatalf("decodeFrame() error = %v", err)
	}
	if !bytes.Equal(back, pcm) {
		t.Errorf("roundtrip mismatch:\n got %v\nwant %v", back, pcm)
	}
}

func TestEncodeFrameUnknownCodec(t *testing.T) {
	if _, err := encodeFrame(Codec{Name: "OPUS"}, nil); err == nil {
		t.Error("expected error for unknown codec")
	}
	if _, err := decodeFrame(Codec{Name: "OPUS"}, nil); err == nil {
		t.Error("expected error for unknown codec")
	}
}

func TestResample(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		in := pcmSamples(1, 2, 3)
		if got := Resample(in, 8000, 8000); !bytes.Equal(got, in) {
			t.Errorf("same-rate resample changed data")
		}
	})

	t.Run("upsample length", func(t *testing.T) {
		in := make([]byte, 320) // 160 samples at 8 kHz
		out := Resample(in, 8000, 48000)
		if len(out) != 1920 {
			t.Errorf("output length = %d, want 1920", len(out))
		}
	})

	t.Run("downsample length", func(t *testing.T) {
		in := make([]byte, 1920) // 960 samples at 48 kHz
		out := Resample(in, 48000, 8000)
		if len(out) != 320 {
			t.Errorf("output length = %d, want 320", len(out))
		}
	})

	t.Run("constant signal stays constant", func(t *testing.T) {
		in := pcmSamples(1000, 1000, 1000, 1000)
		out := Resample(in, 8000, 16000)
		for i := 0; i+1 < len(out); i += 2 {
			if v := int16(binary.LittleEndian.Uint16(out[i:])); v != 1000 {
				t.Fatalf("sample %d = %d, want 1000", i/2, v)
			}
		}
	})

	t.Run("interpolates midpoints", func(t *testing.T) {
		in := pcmSamples(0, 100)
		out := Resample(in, 8000, 16000)
		if len(out) != 8 {
			t.Fatalf("output length = %d, want 8", len(out))
		}
		// Positions 0, 0.5, 1, 1.5 of the input.
		want := []int16{0, 50, 100, 100}
		for i, w := range want {
			if v := int16(binary.LittleEndian.Uint16(out[i*2:])); v != w {
				t.Errorf("sample %d = %d, want %d", i, v, w)
			}
		}
	})
}
