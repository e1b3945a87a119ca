package voip

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestCallSetupValidate(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr bool
	}{
		{"exact", EncryptionKeySize, false},
		{"short", 32, true},
		{"empty", 0, true},
		{"long", EncryptionKeySize + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup := CallSetup{Key: bytes.Repeat([]byte{1}, tt.keyLen)}
			err := setup.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUnavailableFactory(t *testing.T) {
	_, err := UnavailableFactory(CallSetup{})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("got %v, want ErrUnavailable", err)
	}
}

func TestLoopbackEcho(t *testing.T) {
	ctrl := NewLoopback()
	if err := ctrl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := ctrl.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	frame := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	go func() {
		_, _ = ctrl.Input().Write(frame)
	}()

	got := make([]byte, len(frame))
	if _, err := io.ReadFull(ctrl.Output(), got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("echoed %v, want %v", got, frame)
	}

	if err := ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := ctrl.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, err := ctrl.Output().Read(make([]byte, 1)); err == nil {
		t.Error("read after Stop succeeded")
	}
}
