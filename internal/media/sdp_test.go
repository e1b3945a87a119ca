package media

import (
	"strings"
	"testing"
)

func TestSDPRoundtrip(t *testing.T) {
	body, err := marshalSDP("192.0.2.10", 4000, []Codec{PCMU(), PCMA()}, TelephoneEvent(8000))
	if err != nil {
		t.Fatalf("marshalSDP() error = %v", err)
	}

	remote, err := parseRemoteSDP(body)
	if err != nil {
		t.Fatalf("parseRemoteSDP() error = %v", err)
	}
	if got := remote.addr.String(); got != "192.0.2.10:4000" {
		t.Errorf("addr = %s, want 192.0.2.10:4000", got)
	}
	if len(remote.codecs) != 2 {
		t.Fatalf("codecs = %d, want 2", len(remote.codecs))
	}
	if remote.codecs[0].Name != "PCMU" || remote.codecs[1].Name != "PCMA" {
		t.Errorf("codec order = %s, %s", remote.codecs[0].Name, remote.codecs[1].Name)
	}
	if remote.dtmfPT != 101 {
		t.Errorf("dtmf payload type = %d, want 101", remote.dtmfPT)
	}
}

func TestParseRemoteSDPStaticPayloadTypes(t *testing.T) {
	body := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 198.51.100.7",
		"s=call",
		"c=IN IP4 198.51.100.7",
		"t=0 0",
		"m=audio 16444 RTP/AVP 8 0",
		"",
	}, "\r\n")

	remote, err := parseRemoteSDP([]byte(body))
	if err != nil {
		t.Fatalf("parseRemoteSDP() error = %v", err)
	}
	if len(remote.codecs) != 2 {
		t.Fatalf("codecs = %d, want 2", len(remote.codecs))
	}
	if remote.codecs[0].Name != "PCMA" || remote.codecs[1].Name != "PCMU" {
		t.Errorf("codec order = %s, %s", remote.codecs[0].Name, remote.codecs[1].Name)
	}
	if remote.dtmfPT != 0 {
		t.Errorf("dtmf payload type = %d, want 0", remote.dtmfPT)
	}
}

func TestParseRemoteSDPNoAudio(t *testing.T) {
	body := strings.Join([]string{
		"v=0",
		"o=- 1 1 IN IP4 198.51.100.7",
		"s=call",
		"c=IN IP4 198.51.100.7",
		"t=0 0",
		"m=video 9000 RTP/AVP 97",
		"",
	}, "\r\n")

	if _, err := parseRemoteSDP([]byte(body)); err == nil {
		t.Error("expected error for sdp without audio")
	}
}

func TestSelectCodec(t *testing.T) {
	tests := []struct {
		name     string
		local    []Codec
		remote   []Codec
		wantName string
		wantPT   uint8
		wantOK   bool
	}{
		{
			name:     "first local preference wins",
			local:    []Codec{PCMU(), PCMA()},
			remote:   []Codec{PCMA(), PCMU()},
			wantName: "PCMU",
			wantPT:   0,
			wantOK:   true,
		},
		{
			name:     "adopts remote dynamic payload type",
			local:    []Codec{L16()},
			remote:   []Codec{{Name: "L16", PayloadType: 97, ClockRate: 48000, Channels: 1}},
			wantName: "L16",
			wantPT:   97,
			wantOK:   true,
		},
		{
			name:   "clock rate must match",
			local:  []Codec{L16()},
			remote: []Codec{{Name: "L16", PayloadType: 97, ClockRate: 44100, Channels: 1}},
			wantOK: false,
		},
		{
			name:   "nothing in common",
			local:  []Codec{PCMU()},
			remote: []Codec{{Name: "opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := selectCodec(tt.local, &remoteMedia{codecs: tt.remote})
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got.Name != tt.wantName || got.PayloadType != tt.wantPT {
				t.Errorf("selected %s/%d, want %s/%d", got.Name, got.PayloadType, tt.wantName, tt.wantPT)
			}
		})
	}
}
