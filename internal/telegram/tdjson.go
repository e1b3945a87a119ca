//go:build tdlib

package telegram

/*
#cgo LDFLAGS: -ltdjson
#include <stdlib.h>
#include <td/telegram/td_json_client.h>
*/
import "C"

import (
	"time"
	"unsafe"
)

// tdjsonEngine drives a real TDLib instance through the td_json_client ABI.
type tdjsonEngine struct {
	client unsafe.Pointer
}

// NewEngine creates a TDLib instance. Requires the tdjson shared library
// on the link path.
func NewEngine() (Engine, error) {
	return &tdjsonEngine{client: C.td_json_client_create()}, nil
}

func (e *tdjsonEngine) Send(req []byte) error {
	cs := C.CString(string(req))
	defer C.free(unsafe.Pointer(cs))
	C.td_json_client_send(e.client, cs)
	return nil
}

func (e *tdjsonEngine) Receive(timeout time.Duration) []byte {
	// The returned buffer is only valid until the next call, copy it out.
	res := C.td_json_client_receive(e.client, C.double(timeout.Seconds()))
	if res == nil {
		return nil
	}
	return []byte(C.GoString(res))
}

func (e *tdjsonEngine) Execute(req []byte) []byte {
	cs := C.CString(string(req))
	defer C.free(unsafe.Pointer(cs))
	res := C.td_json_client_execute(e.client, cs)
	if res == nil {
		return nil
	}
	return []byte(C.GoString(res))
}

func (e *tdjsonEngine) Close() error {
	C.td_json_client_destroy(e.client)
	return nil
}
