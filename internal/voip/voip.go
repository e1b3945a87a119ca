// Package voip defines the contract to the per-call encrypted voice
// transport. The gateway drives it through the Controller interface and
// builds instances through an injected Factory, so the native transport
// stays an external collaborator.
package voip

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	// ConnectionMaxLayer is the highest call protocol layer the
	// controller implementation supports.
	ConnectionMaxLayer = 92

	// EncryptionKeySize is the exact length of a call encryption key.
	EncryptionKeySize = 256

	// PeerTagSize is the exact length of a relay peer tag.
	PeerTagSize = 16

	// SampleRate is the PCM rate at the controller boundary,
	// 16 bit little endian mono.
	SampleRate = 48000
)

// ErrUnavailable is returned by factories of builds that carry no native
// transport implementation.
var ErrUnavailable = errors.New("voip: built without a call transport implementation")

// Endpoint is one relay the call can be routed through.
type Endpoint struct {
	ID      int64
	IPv4    string
	IPv6    string
	Port    uint16
	PeerTag [PeerTagSize]byte
}

// Proxy is a SOCKS5 proxy for the call transport.
type Proxy struct {
	Host     string
	Port     uint16
	Username string
	Password string
}

// Config carries the per-process transport options from the settings.
type Config struct {
	InitTimeout    time.Duration
	ReceiveTimeout time.Duration
	EnableAEC      bool
	EnableNS       bool
	EnableAGC      bool
	Proxy          *Proxy
}

// DefaultConfig returns the fixed transport timeouts.
func DefaultConfig() Config {
	return Config{
		InitTimeout:    3 * time.Second,
		ReceiveTimeout: 3 * time.Second,
	}
}

// CallSetup is everything needed to run the media of one call.
type CallSetup struct {
	Config     Config
	Key        []byte // EncryptionKeySize bytes, verbatim from the call state
	IsOutgoing bool
	Endpoints  []Endpoint
	MaxLayer   int32
	AllowP2P   bool
}

// Validate checks the fixed-size fields.
func (s *CallSetup) Validate() error {
	if len(s.Key) != EncryptionKeySize {
		return fmt.Errorf("voip: encryption key is %d bytes, want %d", len(s.Key), EncryptionKeySize)
	}
	return nil
}

// Controller runs the voice transport of a single call. Input accepts PCM
// toward the peer, Output produces PCM from the peer, both at SampleRate.
// Stop is safe to call more than once.
type Controller interface {
	Start() error
	Connect() error
	Input() io.Writer
	Output() io.Reader
	Stop() error
}

// Factory builds a controller for one call.
type Factory func(setup CallSetup) (Controller, error)

// UnavailableFactory always fails with ErrUnavailable.
func UnavailableFactory(CallSetup) (Controller, error) {
	return nil, ErrUnavailable
}

// NewLoopback returns a controller that echoes its input back out of its
// output. It stands in for the native transport in tests and local media
// checks.
func NewLoopback() Controller {
	pr, pw := io.Pipe()
	return &loopback{pr: pr, pw: pw}
}

type loopback struct {
	pr   *io.PipeReader
	pw   *io.PipeWriter
	once sync.Once
}

func (l *loopback) Start() error      { return nil }
func (l *loopback) Connect() error    { return nil }
func (l *loopback) Input() io.Writer  { return l.pw }
func (l *loopback) Output() io.Reader { return l.pr }

func (l *loopback) Stop() error {
	l.once.Do(func() {
		_ = l.pw.Close()
		_ = l.pr.Close()
	})
	return nil
}
