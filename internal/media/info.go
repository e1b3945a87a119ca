package media

import (
	"errors"
	"strconv"
	"strings"
)

// ErrInvalidDTMFInfo is returned when a SIP INFO body does not carry a
// parseable DTMF signal.
var ErrInvalidDTMFInfo = errors.New("media: invalid dtmf info payload")

// DTMFInfo is a keypad digit reported out of band via SIP INFO.
type DTMFInfo struct {
	Signal   string
	Duration int // milliseconds, 0 when the sender omitted it
}

// ParseSIPInfoDTMF parses DTMF from a SIP INFO body based on its
// Content-Type. application/dtmf-relay carries "Signal=<digit>" and an
// optional "Duration=<ms>" line; application/dtmf carries the bare digit.
func ParseSIPInfoDTMF(contentType string, body []byte) (*DTMFInfo, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}

	switch ct {
	case "application/dtmf-relay":
		return parseDTMFRelay(body)
	case "application/dtmf":
		sig, ok := dtmfSignal(string(body))
		if !ok {
			return nil, ErrInvalidDTMFInfo
		}
		return &DTMFInfo{Signal: sig}, nil
	default:
		return nil, ErrInvalidDTMFInfo
	}
}

func parseDTMFRelay(body []byte) (*DTMFInfo, error) {
	info := &DTMFInfo{}
	for _, line := range strings.Split(string(body), "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "signal":
			sig, ok := dtmfSignal(value)
			if !ok {
				return nil, ErrInvalidDTMFInfo
			}
			info.Signal = sig
		case "duration":
			if d, err := strconv.Atoi(value); err == nil && d >= 0 {
				info.Duration = d
			}
		}
	}
	if info.Signal == "" {
		return nil, ErrInvalidDTMFInfo
	}
	return info, nil
}

// dtmfSignal normalises a signal value to one uppercase keypad digit.
func dtmfSignal(raw string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) != 1 {
		return "", false
	}
	if _, ok := dtmfEventCode(s[0]); !ok {
		return "", false
	}
	return s, true
}
