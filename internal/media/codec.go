// Package media owns the RTP side of a bridged call: codec bookkeeping,
// SDP offer/answer, the socket pool, PCM rate matching and RFC 4733
// keypad events. Audio enters and leaves the package as 16 bit little
// endian mono PCM at the transport rate of the voice controller.
package media

import "time"

// PCMSampleRate is the PCM rate at the bridge boundary.
const PCMSampleRate = 48000

// FrameDuration is the packetisation interval used on the wire.
const FrameDuration = 20 * time.Millisecond

// Codec describes one negotiated RTP payload format.
type Codec struct {
	Name        string
	PayloadType uint8
	ClockRate   uint32
	Channels    uint8
}

// PCMU is G.711 µ-law at 8 kHz, static payload type 0.
func PCMU() Codec {
	return Codec{Name: "PCMU", PayloadType: 0, ClockRate: 8000, Channels: 1}
}

// PCMA is G.711 A-law at 8 kHz, static payload type 8.
func PCMA() Codec {
	return Codec{Name: "PCMA", PayloadType: 8, ClockRate: 8000, Channels: 1}
}

// L16 is uncompressed 16 bit PCM at the controller rate. Used when the
// far end can take raw audio, avoiding the resample to 8 kHz.
func L16() Codec {
	return Codec{Name: "L16", PayloadType: 96, ClockRate: PCMSampleRate, Channels: 1}
}

// TelephoneEvent is the RFC 4733 event payload at the given clock rate.
func TelephoneEvent(clockRate uint32) Codec {
	return Codec{Name: "telephone-event", PayloadType: 101, ClockRate: clockRate, Channels: 1}
}

// SamplesPerFrame returns the sample count of one FrameDuration frame.
func (c Codec) SamplesPerFrame() int {
	return int(uint64(c.ClockRate) * uint64(FrameDuration) / uint64(time.Second))
}

// PCMBytesPerFrame returns the PCM16 byte count of one frame at the
// codec clock rate.
func (c Codec) PCMBytesPerFrame() int {
	return c.SamplesPerFrame() * 2
}
