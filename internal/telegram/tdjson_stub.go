//go:build !tdlib

package telegram

import "errors"

// NewEngine reports that the binary was built without the TDLib binding.
// Rebuild with -tags tdlib and the tdjson shared library on the link path.
func NewEngine() (Engine, error) {
	return nil, errors.New("telegram: built without tdlib support (rebuild with -tags tdlib)")
}
