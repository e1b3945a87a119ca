package media

import (
	"encoding/binary"
	"fmt"
)

// dtmfVolume is the attenuation in dB advertised for generated events.
const dtmfVolume = 10

// dtmfPayload is the RFC 4733 telephone-event payload: event code, end
// flag, volume and a 16 bit duration in timestamp units.
type dtmfPayload struct {
	Event    uint8
	End      bool
	Volume   uint8
	Duration uint16
}

func (p dtmfPayload) marshal() []byte {
	b := make([]byte, 4)
	b[0] = p.Event
	b[1] = p.Volume & 0x3f
	if p.End {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:], p.Duration)
	return b
}

func parseDTMFPayload(b []byte) (dtmfPayload, error) {
	if len(b) < 4 {
		return dtmfPayload{}, fmt.Errorf("media: telephone-event payload is %d bytes", len(b))
	}
	return dtmfPayload{
		Event:    b[0],
		End:      b[1]&0x80 != 0,
		Volume:   b[1] & 0x3f,
		Duration: binary.BigEndian.Uint16(b[2:]),
	}, nil
}

// dtmfEventCode maps a keypad digit to its RFC 4733 event code.
func dtmfEventCode(digit byte) (uint8, bool) {
	switch {
	case digit >= '0' && digit <= '9':
		return digit - '0', true
	case digit == '*':
		return 10, true
	case digit == '#':
		return 11, true
	case digit >= 'A' && digit <= 'D':
		return 12 + digit - 'A', true
	}
	return 0, false
}

// dtmfDigit is the inverse of dtmfEventCode, for logging received events.
func dtmfDigit(event uint8) byte {
	switch {
	case event <= 9:
		return '0' + event
	case event == 10:
		return '*'
	case event == 11:
		return '#'
	case event <= 15:
		return 'A' + event - 12
	}
	return '?'
}
