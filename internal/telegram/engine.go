package telegram

import "time"

// Engine is the transport to one TDLib instance. Implementations wrap the
// td_json_client C interface: Send hands a JSON-serialized request to the
// instance, Receive blocks up to timeout for the next response or update,
// Execute runs a synchronous request that does not touch instance state.
type Engine interface {
	Send(req []byte) error
	Receive(timeout time.Duration) []byte
	Execute(req []byte) []byte
	Close() error
}
