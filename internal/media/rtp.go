package media

import (
	"io"
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"
)

const (
	// maxRTPPacket bounds a single datagram read off the wire.
	maxRTPPacket = 1500

	// pcmFrameBytes is one 20 ms frame at the bridge rate, 16 bit mono.
	pcmFrameBytes = PCMSampleRate / 50 * 2

	// dtmfFrames is how many 20 ms intervals a generated tone spans
	// before the end packet, dtmfEndRepeats how often the end packet is
	// retransmitted and dtmfGapFrames the pause between queued digits.
	dtmfFrames     = 5
	dtmfEndRepeats = 3
	dtmfGapFrames  = 2
)

// sendLoop paces outbound RTP at one packet per FrameDuration. Audio is
// pulled from src through a feeder goroutine so a stalled reader never
// skews the packet clock; queued DTMF digits pre-empt audio and are sent
// as telephone events against the same timestamp clock.
func (s *Session) sendLoop(src io.Reader, codec Codec, dtmfPT uint8) {
	defer s.wg.Done()

	frames := make(chan []byte, 4)
	go func() {
		for {
			if s.stopped.Load() {
				return
			}
			buf := make([]byte, pcmFrameBytes)
			if _, err := io.ReadFull(src, buf); err != nil {
				close(frames)
				return
			}
			select {
			case frames <- buf:
			default:
				// consumer is behind, drop the frame to stay realtime
			}
		}
	}()

	var (
		ssrc            = rand.Uint32()
		seq             = uint16(rand.Uint32())
		ts              = rand.Uint32()
		samplesPerFrame = uint32(codec.SamplesPerFrame())
		firstPacket     = true
	)

	send := func(payloadType uint8, marker bool, timestamp uint32, payload []byte) {
		remote := s.remote.Load()
		if remote == nil {
			return
		}
		pkt := rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         marker,
				PayloadType:    payloadType,
				SequenceNumber: seq,
				Timestamp:      timestamp,
				SSRC:           ssrc,
			},
			Payload: payload,
		}
		raw, err := pkt.Marshal()
		if err != nil {
			return
		}
		if _, err := s.pair.RTPConn.WriteToUDP(raw, remote); err != nil {
			return
		}
		seq++
	}

	var (
		toneActive bool
		toneCode   uint8
		toneStart  uint32
		toneFrames int
		toneEnds   int
		gapLeft    int
	)

	ticker := time.NewTicker(FrameDuration)
	defer ticker.Stop()

	for range ticker.C {
		if s.stopped.Load() {
			return
		}

		if !toneActive && gapLeft == 0 && dtmfPT != 0 {
			select {
			case code := <-s.dtmfQueue:
				toneActive = true
				toneCode = code
				toneStart = ts
				toneFrames = 0
				toneEnds = 0
			default:
			}
		}

		switch {
		case toneActive:
			toneFrames++
			p := dtmfPayload{
				Event:    toneCode,
				Volume:   dtmfVolume,
				Duration: uint16(uint32(toneFrames) * samplesPerFrame),
			}
			if toneFrames >= dtmfFrames {
				p.End = true
				p.Duration = uint16(uint32(dtmfFrames) * samplesPerFrame)
				toneEnds++
			}
			send(dtmfPT, toneFrames == 1, toneStart, p.marshal())
			if toneEnds >= dtmfEndRepeats {
				toneActive = false
				gapLeft = dtmfGapFrames
			}
		case gapLeft > 0:
			gapLeft--
		default:
			select {
			case frame, ok := <-frames:
				if !ok {
					frames = nil
					break
				}
				if codec.ClockRate != PCMSampleRate {
					frame = Resample(frame, PCMSampleRate, codec.ClockRate)
				}
				payload, err := encodeFrame(codec, frame)
				if err != nil {
					break
				}
				send(codec.PayloadType, firstPacket, ts, payload)
				firstPacket = false
			default:
				// underrun, skip this interval
			}
		}

		ts += samplesPerFrame
	}
}

// recvLoop decodes inbound RTP into PCM frames for dst. The remote
// address is learned from traffic so NATed peers that send from a port
// other than the one they advertised still get audio back.
func (s *Session) recvLoop(dst io.Writer, codec Codec, dtmfPT uint8) {
	defer s.wg.Done()

	buf := make([]byte, maxRTPPacket)
	var lastEventTS uint32
	for {
		n, addr, err := s.pair.RTPConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if s.stopped.Load() {
			return
		}
		if cur := s.remote.Load(); addr != nil &&
			(cur == nil || !cur.IP.Equal(addr.IP) || cur.Port != addr.Port) {
			s.remote.Store(addr)
			s.logger.Debug("learned remote rtp address", "remote", addr.String())
		}

		var pkt rtp.Packet
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if dtmfPT != 0 && pkt.PayloadType == dtmfPT {
			ev, err := parseDTMFPayload(pkt.Payload)
			if err == nil && ev.End && pkt.Timestamp != lastEventTS {
				lastEventTS = pkt.Timestamp
				s.logger.Debug("inbound dtmf event", "digit", string(dtmfDigit(ev.Event)))
			}
			continue
		}
		if pkt.PayloadType != codec.PayloadType {
			continue
		}
		pcm, err := decodeFrame(codec, pkt.Payload)
		if err != nil {
			continue
		}
		if codec.ClockRate != PCMSampleRate {
			pcm = Resample(pcm, codec.ClockRate, PCMSampleRate)
		}
		if _, err := dst.Write(pcm); err != nil {
			return
		}
	}
}
