package gateway

import (
	"fmt"
	"strconv"
	"strings"
)

// extTarget is a decoded SIP extension: exactly one field is set.
type extTarget struct {
	username string
	phone    string
	userID   int64
}

// parseExtension decodes the user part of an incoming SIP target into a
// Telegram destination. The grammar is "tg#" followed by a username, "+"
// followed by a phone number, or a bare numeric user id.
func parseExtension(ext string) (extTarget, error) {
	switch {
	case len(ext) > 3 && strings.HasPrefix(ext, "tg#"):
		return extTarget{username: ext[3:]}, nil
	case len(ext) > 1 && ext[0] == '+' && isDigits(ext[1:]):
		return extTarget{phone: ext[1:]}, nil
	case isDigits(ext):
		id, err := strconv.ParseInt(ext, 10, 64)
		if err != nil {
			return extTarget{}, fmt.Errorf("extension %q is not a user id: %w", ext, err)
		}
		return extTarget{userID: id}, nil
	default:
		return extTarget{}, fmt.Errorf("extension %q matches no dialable form", ext)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
