package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"node.town/subtitler/audio"
	"node.town/subtitler/config"
	"node.town/subtitler/db"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"no microphone", audio.ErrNoDevices, exitNoDevices},
		{"wrapped no microphone", fmt.Errorf("open: %w", audio.ErrNoDevices), exitNoDevices},
		{"other", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestListenFlags(t *testing.T) {
	tests := []struct {
		long, short, def string
	}{
		{"locale", "l", "de"},
		{"target-language", "t", "de"},
		{"seconds", "s", "30"},
		{"device", "w", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.long, func(t *testing.T) {
			f := listenCmd.Flags().Lookup(tt.long)
			if f == nil {
				t.Fatalf("flag --%s missing", tt.long)
			}
			if f.Shorthand != tt.short {
				t.Errorf("--%s shorthand = %q, want %q", tt.long, f.Shorthand, tt.short)
			}
			if f.DefValue != tt.def {
				t.Errorf("--%s default = %q, want %q", tt.long, f.DefValue, tt.def)
			}
		})
	}
}

func TestPipelineOptions(t *testing.T) {
	cfg := config.Config{
		Locale:           "en",
		TargetLanguage:   "de",
		Seconds:          12,
		GraceTimeout:     time.Second,
		TranslateTimeout: 2 * time.Second,
		Retry:            config.Retry{MaxFailures: 4, Backoff: 3 * time.Second},
	}
	opts := pipelineOptions(cfg)
	if opts.Locale != "en" || opts.TargetLanguage != "de" || opts.Seconds != 12 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Retry.MaxConsecutiveFailures != 4 || opts.Retry.Backoff != 3*time.Second {
		t.Errorf("retry = %+v", opts.Retry)
	}
	if opts.GraceTimeout != time.Second || opts.TranslateTimeout != 2*time.Second {
		t.Errorf("timeouts = %v, %v", opts.GraceTimeout, opts.TranslateTimeout)
	}
}

func TestRenderDevices(t *testing.T) {
	var buf bytes.Buffer
	renderDevices(&buf, []audio.Device{
		{Index: 0, Name: "Built-in Microphone", Channels: 2, DefaultSampleRate: 48000, HostAPI: "Core Audio"},
		{Index: 1, Name: "USB Headset", Channels: 1, DefaultSampleRate: 16000, HostAPI: "Core Audio"},
	})

	out := buf.String()
	for _, want := range []string{"Built-in Microphone", "USB Headset", "48000 Hz", "16000 Hz"} {
		if !strings.Contains(out, want) {
			t.Errorf("device table missing %q:\n%s", want, out)
		}
	}
}

func TestRenderHistory(t *testing.T) {
	var buf bytes.Buffer
	renderHistory(&buf, []db.Entry{
		{ID: 2, SessionID: "abcdefghijkl", Locale: "en", Text: "good morning", CreatedAt: time.Now()},
		{ID: 1, SessionID: "mnopqrstuvwx", Locale: "en", Text: "hello world", Target: "de", Translation: "hallo welt", CreatedAt: time.Now()},
	})

	out := buf.String()
	for _, want := range []string{"abcdefgh", "[en] good morning", "[de] hallo welt"} {
		if !strings.Contains(out, want) {
			t.Errorf("history table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "abcdefghijkl") {
		t.Error("session ids should be shortened")
	}
}
