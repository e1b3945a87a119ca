package media

import (
	"encoding/binary"
	"fmt"

	"github.com/zaf/g711"
)

// encodeFrame turns one PCM16 frame at the codec clock rate into an RTP
// payload. L16 goes on the wire in network byte order per RFC 3551.
func encodeFrame(c Codec, pcm []byte) ([]byte, error) {
	switch c.Name {
	case "PCMU":
		return g711.EncodeUlaw(pcm), nil
	case "PCMA":
		return g711.EncodeAlaw(pcm), nil
	case "L16":
		return swapEndian(pcm), nil
	default:
		return nil, fmt.Errorf("media: cannot encode %s", c.Name)
	}
}

// decodeFrame turns an RTP payload into PCM16 at the codec clock rate.
func decodeFrame(c Codec, payload []byte) ([]byte, error) {
	switch c.Name {
	case "PCMU":
		return g711.DecodeUlaw(payload), nil
	case "PCMA":
		return g711.DecodeAlaw(payload), nil
	case "L16":
		return swapEndian(payload), nil
	default:
		return nil, fmt.Errorf("media: cannot decode %s", c.Name)
	}
}

func swapEndian(in []byte) []byte {
	out := make([]byte, len(in)&^1)
	for i := 0; i+1 < len(in); i += 2 {
		out[i], out[i+1] = in[i+1], in[i]
	}
	return out
}

// Resample converts 16 bit little endian mono PCM between sample rates by
// linear interpolation. Rate matching only; no filtering is applied.
func Resample(pcm []byte, from, to uint32) []byte {
	if from == to || len(pcm) < 2 {
		return pcm
	}
	in := make([]int16, len(pcm)/2)
	for i := range in {
		in[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	outLen := int(uint64(len(in)) * uint64(to) / uint64(from))
	if outLen == 0 {
		return nil
	}
	out := make([]byte, outLen*2)
	ratio := float64(from) / float64(to)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= len(in)-1 {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(in[len(in)-1]))
			continue
		}
		frac := pos - float64(j)
		v := float64(in[j]) + frac*(float64(in[j+1])-float64(in[j]))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
