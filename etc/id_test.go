package etc

import (
	"testing"
	"time"
)

func TestNewFreshID(t *testing.T) {
	a := NewFreshID()
	b := NewFreshID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty ids")
	}
	if a == b {
		t.Errorf("expected distinct ids, got %q twice", a)
	}
}

func TestShortID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abc", "abc"},
		{"abcdefgh", "abcdefgh"},
		{"abcdefghijkl", "abcdefgh"},
	}
	for _, tt := range tests {
		if got := ShortID(tt.in); got != tt.want {
			t.Errorf("ShortID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJulianDayToTime(t *testing.T) {
	tests := []struct {
		jd   float64
		want time.Time
	}{
		{2440587.5, time.Unix(0, 0)},
		{2440588.5, time.Unix(86400, 0)},
		{2440588.0, time.Unix(43200, 0)},
	}
	for _, tt := range tests {
		if got := JulianDayToTime(tt.jd); !got.Equal(tt.want) {
			t.Errorf("JulianDayToTime(%v) = %v, want %v", tt.jd, got, tt.want)
		}
	}
}
