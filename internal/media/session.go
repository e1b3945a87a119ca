package media

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Session is the RTP endpoint of one bridged call. It owns a socket pair
// from the pool, negotiates a codec through SDP offer/answer and, once
// bridged, pumps audio between the RTP peer and a pair of PCM endpoints
// running at PCMSampleRate.
type Session struct {
	ID string

	logger *slog.Logger
	pool   *Pool
	pair   *SocketPair
	rawPCM bool

	mu      sync.Mutex
	codec   Codec
	dtmfPT  uint8
	offered []Codec

	remote    atomic.Pointer[net.UDPAddr]
	dtmfQueue chan uint8

	stopped   atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSession allocates a socket pair for one call. With rawPCM the session
// offers uncompressed L16 at the bridge rate, otherwise G.711.
func NewSession(pool *Pool, rawPCM bool, logger *slog.Logger) (*Session, error) {
	pair, err := pool.Allocate()
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Session{
		ID:        id,
		logger:    logger.With("subsystem", "rtp-session", "session_id", id),
		pool:      pool,
		pair:      pair,
		rawPCM:    rawPCM,
		dtmfQueue: make(chan uint8, 64),
	}, nil
}

// Port returns the local RTP port.
func (s *Session) Port() int {
	return s.pair.Ports.RTP
}

func (s *Session) localCodecs() []Codec {
	if s.rawPCM {
		return []Codec{L16()}
	}
	return []Codec{PCMU(), PCMA()}
}

// Offer builds the SDP offer for an outgoing call.
func (s *Session) Offer(localIP string) ([]byte, error) {
	offered := s.localCodecs()
	s.mu.Lock()
	s.offered = offered
	s.mu.Unlock()
	return marshalSDP(localIP, s.Port(), offered, TelephoneEvent(offered[0].ClockRate))
}

// AcceptOffer negotiates against a peer's offer and builds the answer.
func (s *Session) AcceptOffer(localIP string, offer []byte) ([]byte, error) {
	remote, err := parseRemoteSDP(offer)
	if err != nil {
		return nil, err
	}
	codec, ok := selectCodec(s.localCodecs(), remote)
	if !ok {
		return nil, errors.New("media: no codec in common with offer")
	}
	s.setNegotiated(codec, remote)
	dtmf := TelephoneEvent(codec.ClockRate)
	if remote.dtmfPT != 0 {
		dtmf.PayloadType = remote.dtmfPT
	}
	return marshalSDP(localIP, s.Port(), []Codec{codec}, dtmf)
}

// ApplyAnswer digests the peer's answer to our offer.
func (s *Session) ApplyAnswer(answer []byte) error {
	remote, err := parseRemoteSDP(answer)
	if err != nil {
		return err
	}
	s.mu.Lock()
	offered := s.offered
	s.mu.Unlock()
	codec, ok := selectCodec(offered, remote)
	if !ok {
		return errors.New("media: answer carries none of the offered codecs")
	}
	s.setNegotiated(codec, remote)
	return nil
}

func (s *Session) setNegotiated(codec Codec, remote *remoteMedia) {
	s.mu.Lock()
	s.codec = codec
	s.dtmfPT = remote.dtmfPT
	s.mu.Unlock()
	s.remote.Store(remote.addr)
	s.logger.Info("media negotiated",
		"codec", codec.Name,
		"clock_rate", codec.ClockRate,
		"payload_type", codec.PayloadType,
		"remote", remote.addr.String())
}

// Negotiated reports whether offer/answer has completed.
func (s *Session) Negotiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codec.Name != ""
}

// Bridge starts the two pump goroutines. src supplies PCM headed for the
// RTP peer, dst takes PCM arriving from it, both at PCMSampleRate. The
// pumps run until the session is closed or either endpoint fails.
func (s *Session) Bridge(src io.Reader, dst io.Writer) error {
	s.mu.Lock()
	codec := s.codec
	dtmfPT := s.dtmfPT
	s.mu.Unlock()
	if codec.Name == "" {
		return errors.New("media: bridge before negotiation")
	}
	if s.remote.Load() == nil {
		return errors.New("media: bridge without a remote address")
	}
	s.wg.Add(2)
	go s.sendLoop(src, codec, dtmfPT)
	go s.recvLoop(dst, codec, dtmfPT)
	return nil
}

// SendDTMF queues keypad digits for transmission as telephone events.
func (s *Session) SendDTMF(digits string) error {
	s.mu.Lock()
	dtmfPT := s.dtmfPT
	s.mu.Unlock()
	if dtmfPT == 0 {
		return errors.New("media: peer did not negotiate telephone-event")
	}
	for i := 0; i < len(digits); i++ {
		code, ok := dtmfEventCode(digits[i])
		if !ok {
			return errors.New("media: not a dtmf digit: " + string(digits[i]))
		}
		select {
		case s.dtmfQueue <- code:
		default:
			return errors.New("media: dtmf queue full")
		}
	}
	return nil
}

// Close stops the pumps and returns the sockets to the pool. Safe to call
// more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stopped.Store(true)
		s.pool.Release(s.pair)
		s.wg.Wait()
	})
}
