package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"aioffice/internal/common"
)

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"tilde slash", "~/data/aioffice.db", filepath.Join(home, "data", "aioffice.db")},
		{"bare tilde", "~", home},
		{"plain path", "/var/lib/aioffice.db", "/var/lib/aioffice.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandPath(tt.in); got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandPathEnvVar(t *testing.T) {
	t.Setenv("AIOFFICE_TEST_DIR", "/tmp/aioffice-test")

	got := ExpandPath("$AIOFFICE_TEST_DIR/db.sqlite")
	want := "/tmp/aioffice-test/db.sqlite"
	if got != want {
		t.Errorf("ExpandPath() = %q, want %q", got, want)
	}
}

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.OrchestratorURL != "http://localhost:8000" {
		t.Errorf("OrchestratorURL = %q", cfg.OrchestratorURL)
	}
	if cfg.OrchestratorTimeout.Seconds() != 30 {
		t.Errorf("OrchestratorTimeout = %v", cfg.OrchestratorTimeout)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "console" {
		t.Errorf("logging defaults = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad level", "logging.level", "verbose"},
		{"bad format", "logging.format", "xml"},
		{"bad url", "orchestrator.url", "ftp://nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			viper.Set(tt.key, tt.value)

			_, err := Load()
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !errors.Is(err, common.ErrInvalidConfig) {
				t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
