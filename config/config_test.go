package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

func decodeJSON(t *testing.T, body string) (Config, error) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("json")
	if err := v.ReadConfig(strings.NewReader(body)); err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	return Decode(v)
}

func TestDefaults(t *testing.T) {
	cfg, err := decodeJSON(t, `{}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if cfg.Locale != "de" || cfg.TargetLanguage != "de" {
		t.Errorf("locale pair = %s->%s, want de->de", cfg.Locale, cfg.TargetLanguage)
	}
	if cfg.Seconds != 30 {
		t.Errorf("Seconds = %d, want 30", cfg.Seconds)
	}
	if cfg.Retry.Backoff != 5*time.Second {
		t.Errorf("Retry.Backoff = %v, want 5s", cfg.Retry.Backoff)
	}
	if cfg.Broadcast.Codec != "jpeg" {
		t.Errorf("Broadcast.Codec = %q, want jpeg", cfg.Broadcast.Codec)
	}
	if cfg.LogLevel() != log.InfoLevel {
		t.Errorf("LogLevel() = %v, want info", cfg.LogLevel())
	}
}

func TestFileOverrides(t *testing.T) {
	cfg, err := decodeJSON(t, `{
		"locale": "en-US",
		"target_language": "fr",
		"seconds": 10,
		"grace_timeout": "750ms",
		"broadcast": {"name": "Stage", "codec": "png"},
		"retry": {"max_failures": 3, "backoff": "2s"},
		"log": {"level": "debug"}
	}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if cfg.Locale != "en-US" || cfg.TargetLanguage != "fr" || cfg.Seconds != 10 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.GraceTimeout != 750*time.Millisecond {
		t.Errorf("GraceTimeout = %v, want 750ms", cfg.GraceTimeout)
	}
	if cfg.Broadcast.Name != "Stage" || cfg.Broadcast.Codec != "png" {
		t.Errorf("Broadcast = %+v", cfg.Broadcast)
	}
	if cfg.Broadcast.Addr != ":5960" {
		t.Errorf("Broadcast.Addr = %q, want the default", cfg.Broadcast.Addr)
	}
	if cfg.Retry.MaxFailures != 3 || cfg.Retry.Backoff != 2*time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.LogLevel() != log.DebugLevel {
		t.Errorf("LogLevel() = %v, want debug", cfg.LogLevel())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty locale", `{"locale": ""}`},
		{"negative device", `{"device": -1}`},
		{"jpeg quality", `{"broadcast": {"jpeg_quality": 101}}`},
		{"negative retries", `{"retry": {"max_failures": -2}}`},
		{"log level", `{"log": {"level": "loud"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeJSON(t, tt.body); err == nil {
				t.Errorf("expected %s to be rejected", tt.body)
			}
		})
	}
}

func TestLoadFromWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	cfg, err := Load(viper.New())
	if err != nil {
		t.Fatalf("Load without a settings file: %v", err)
	}
	if cfg.Locale != "de" {
		t.Errorf("Locale = %q, want default", cfg.Locale)
	}

	settings := filepath.Join(dir, "appsettings.json")
	if err := os.WriteFile(settings, []byte(`{"locale": "it"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SUBTITLER_TARGET_LANGUAGE", "es")

	cfg, err = Load(viper.New())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Locale != "it" || cfg.TargetLanguage != "es" {
		t.Errorf("locale pair = %s->%s, want it->es", cfg.Locale, cfg.TargetLanguage)
	}

	if err := os.WriteFile(settings, []byte(`{"locale": `), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(viper.New()); err == nil {
		t.Error("expected a malformed settings file to fail")
	}
}
