package sip

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCallIDValid(t *testing.T) {
	if NoCall.Valid() {
		t.Error("NoCall should not be valid")
	}
	if !CallID("abc").Valid() {
		t.Error("non-empty id should be valid")
	}
}

func TestEventCall(t *testing.T) {
	id := CallID("call-1")
	tests := []struct {
		name  string
		event Event
	}{
		{"incoming", IncomingCall{ID: id, Extension: "tg#alice"}},
		{"state", CallStateUpdate{ID: id, State: CallStateConfirmed}},
		{"media", MediaStateUpdate{ID: id, Active: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Call(); got != id {
				t.Errorf("Call() = %q, want %q", got, id)
			}
		})
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := newRegistry(testLogger())

	c := newCall(directionInbound)
	if !c.id.Valid() {
		t.Fatal("new call has no id")
	}
	if c.localTag == "" {
		t.Fatal("new call has no dialog tag")
	}

	r.add(c)
	if got := r.get(c.id); got != c {
		t.Errorf("get() = %v, want the tracked call", got)
	}
	if got := r.count(); got != 1 {
		t.Errorf("count() = %d, want 1", got)
	}
	if got := len(r.snapshot()); got != 1 {
		t.Errorf("snapshot() length = %d, want 1", got)
	}

	if got := r.remove(c.id); got != c {
		t.Errorf("remove() = %v, want the tracked call", got)
	}
	if got := r.remove(c.id); got != nil {
		t.Errorf("second remove() = %v, want nil", got)
	}
	if got := r.get(c.id); got != nil {
		t.Errorf("get() after remove = %v, want nil", got)
	}
}

func TestRegistryUnknownWireID(t *testing.T) {
	r := newRegistry(testLogger())
	if got := r.getByWire("nope"); got != nil {
		t.Errorf("getByWire() = %v, want nil", got)
	}
}

func TestStatusText(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{404, "Not Found"},
		{420, "Bad Extension"},
		{480, "Temporarily Unavailable"},
		{486, "Busy Here"},
		{487, "Request Terminated"},
		{488, "Not Acceptable Here"},
		{500, "Internal Server Error"},
		{503, "Service Unavailable"},
		{699, "Call Terminated"},
	}
	for _, tt := range tests {
		if got := statusText(tt.code); got != tt.want {
			t.Errorf("statusText(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
