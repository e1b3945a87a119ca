package gateway

import "testing"

func TestParseExtension(t *testing.T) {
	tests := []struct {
		ext     string
		want    extTarget
		wantErr bool
	}{
		{ext: "tg#alice", want: extTarget{username: "alice"}},
		{ext: "tg#a", want: extTarget{username: "a"}},
		{ext: "+123", want: extTarget{phone: "123"}},
		{ext: "+79991234567", want: extTarget{phone: "79991234567"}},
		{ext: "123", want: extTarget{userID: 123}},
		{ext: "0", want: extTarget{userID: 0}},
		{ext: "abc", wantErr: true},
		{ext: "", wantErr: true},
		{ext: "tg#", wantErr: true},
		{ext: "+", wantErr: true},
		{ext: "+12a3", wantErr: true},
		{ext: "12 3", wantErr: true},
		{ext: "???", wantErr: true},
		{ext: "99999999999999999999999999", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, err := parseExtension(tt.ext)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseExtension(%q) = %+v, want error", tt.ext, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseExtension(%q): %v", tt.ext, err)
			}
			if got != tt.want {
				t.Errorf("parseExtension(%q) = %+v, want %+v", tt.ext, got, tt.want)
			}
		})
	}
}

func TestParseExtensionSetsOneField(t *testing.T) {
	for _, ext := range []string{"tg#alice", "+123", "123"} {
		target, err := parseExtension(ext)
		if err != nil {
			t.Fatalf("parseExtension(%q): %v", ext, err)
		}
		set := 0
		if target.username != "" {
			set++
		}
		if target.phone != "" {
			set++
		}
		if target.userID != 0 {
			set++
		}
		if set > 1 {
			t.Errorf("parseExtension(%q) = %+v, more than one field set", ext, target)
		}
	}
}
