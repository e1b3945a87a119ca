package media

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// PortPair holds an RTP port and its companion RTCP port (RTP+1).
type PortPair struct {
	RTP  int
	RTCP int
}

// SocketPair holds the bound UDP sockets for one RTP/RTCP port pair.
type SocketPair struct {
	Ports    PortPair
	RTPConn  *net.UDPConn
	RTCPConn *net.UDPConn
}

// Close releases both sockets.
func (sp *SocketPair) Close() error {
	var rtpErr, rtcpErr error
	if sp.RTPConn != nil {
		rtpErr = sp.RTPConn.Close()
	}
	if sp.RTCPConn != nil {
		rtcpErr = sp.RTCPConn.Close()
	}
	if rtpErr != nil {
		return rtpErr
	}
	return rtcpErr
}

// Pool hands out UDP socket pairs from a configured port range: an even
// port for RTP and the next odd port for RTCP.
type Pool struct {
	portMin int
	portMax int
	logger  *slog.Logger

	mu        sync.Mutex
	allocated map[int]struct{}
	nextPort  int
}

// NewPool creates a socket pool over [portMin, portMax]. portMin must
// be even and the range must hold at least one pair.
func NewPool(portMin, portMax int, logger *slog.Logger) (*Pool, error) {
	if portMin%2 != 0 {
		return nil, fmt.Errorf("media: port range must start even, got %d", portMin)
	}
	if portMax <= portMin {
		return nil, fmt.Errorf("media: port range %d-%d is empty", portMin, portMax)
	}
	return &Pool{
		portMin:   portMin,
		portMax:   portMax,
		logger:    logger.With("subsystem", "rtp-pool"),
		allocated: make(map[int]struct{}),
		nextPort:  portMin,
	}, nil
}

// Capacity returns the number of pairs the range can hold.
func (p *Pool) Capacity() int {
	return (p.portMax - p.portMin + 1) / 2
}

// AllocatedCount returns the number of pairs currently handed out.
func (p *Pool) AllocatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.allocated)
}

// Allocate binds the next free RTP/RTCP socket pair. Ports that fail to
// bind (taken by another process) are skipped.
func (p *Pool) Allocate() (*SocketPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	capacity := p.Capacity()
	if len(p.allocated) >= capacity {
		return nil, fmt.Errorf("media: no rtp ports free (all %d pairs allocated)", capacity)
	}

	for tries := 0; tries < capacity; tries++ {
		port := p.nextPort
		p.nextPort += 2
		if p.nextPort > p.portMax-1 {
			p.nextPort = p.portMin
		}

		if _, taken := p.allocated[port]; taken {
			continue
		}
		rtpConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err != nil {
			p.logger.Debug("rtp port bind failed, skipping", "port", port, "error", err)
			continue
		}
		rtcpConn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port + 1})
		if err != nil {
			_ = rtpConn.Close()
			p.logger.Debug("rtcp port bind failed, skipping", "port", port+1, "error", err)
			continue
		}

		p.allocated[port] = struct{}{}
		return &SocketPair{
			Ports:    PortPair{RTP: port, RTCP: port + 1},
			RTPConn:  rtpConn,
			RTCPConn: rtcpConn,
		}, nil
	}
	return nil, fmt.Errorf("media: no bindable rtp port in %d-%d", p.portMin, p.portMax)
}

// Release closes the pair's sockets and returns its ports to the pool.
func (p *Pool) Release(sp *SocketPair) {
	if sp == nil {
		return
	}
	_ = sp.Close()
	p.mu.Lock()
	delete(p.allocated, sp.Ports.RTP)
	p.mu.Unlock()
}
