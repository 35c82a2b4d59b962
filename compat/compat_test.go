package compat

import (
	"strings"
	"testing"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"0.1.0", Version{0, 1, 0}, false},
		{"1.2", Version{1, 2, 0}, false},
		{"v2.3.4", Version{2, 3, 4}, false},
		{"", Version{}, true},
		{"1", Version{}, true},
		{"1.2.3.4", Version{}, true},
		{"1..2", Version{}, true},
		{"a.b", Version{}, true},
		{"1.2.3-beta", Version{}, true},
		{"4294967296.0", Version{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	host := Range{Major: 1, Minor: 2}

	tests := []struct {
		declared string
		want     bool
		reason   string
	}{
		{"1.0.0", true, ""},
		{"1.2.9", true, ""},
		{"1.3.0", false, "newer"},
		{"2.0.0", false, "major"},
		{"0.9.0", false, "major"},
		{"garbage", false, "unparseable"},
	}
	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			res := Check(tt.declared, host)
			if res.Compatible != tt.want {
				t.Fatalf("Compatible = %v, want %v (%s)", res.Compatible, tt.want, res.Reason)
			}
			if !tt.want && !strings.Contains(res.Reason, tt.reason) {
				t.Errorf("reason %q does not mention %q", res.Reason, tt.reason)
			}
			if tt.want && res.Reason != "" {
				t.Errorf("compatible result carries reason %q", res.Reason)
			}
		})
	}
}

func TestCheckIsTotal(t *testing.T) {
	for _, s := range []string{"", ".", "..", "v", "-1.0", "1.-1", "\x00"} {
		if Check(s, Range{}).Compatible {
			t.Errorf("Check(%q) should be incompatible", s)
		}
	}
}

func TestVersionCompatible(t *testing.T) {
	host := MustParse("1.4.0")
	if !host.Compatible(MustParse("1.4.7")) {
		t.Error("patch should be ignored")
	}
	if host.Compatible(MustParse("1.5.0")) {
		t.Error("newer minor should be rejected")
	}
	if RangeOf(host).String() != "1.4" {
		t.Errorf("RangeOf = %s", RangeOf(host))
	}
}
