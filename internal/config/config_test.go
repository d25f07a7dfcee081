package config

import (
	"os"
	"testing"
)

func TestValidateDefaults(t *testing.T) {
	cfg := Default()
	cfg.Sources = []string{"file:///media/a.mp4"}
	if err := Validate(&cfg); err != nil {
		t.Fatalf("expected defaults + one source to validate, got %v", err)
	}
}

func TestValidateSourceCount(t *testing.T) {
	cfg := Default()
	cfg.Sources = []string{"a", "b", "c"}
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for 3 sources")
	}
}

func TestValidateMaxWidthBoundary(t *testing.T) {
	// Boundary behavior from spec.md §8: width == max is fine, this test
	// only exercises the config-level bound, not stream open.
	cfg := Default()
	cfg.Sources = []string{"a"}
	cfg.MaxVideoWidth = 3840
	if err := Validate(&cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.MaxVideoWidth = 0
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for zero max width")
	}
}

func TestValidateLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Sources = []string{"a"}
	cfg.LogLevel = "SILLY"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for unrecognized log level")
	}
}

func TestValidateKeystoneOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.Sources = []string{"a"}
	cfg.KeystoneInitial[0].X = 2.5
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for out-of-range corner")
	}
}

func TestLogLevelEnvOverride(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "debug")
	cfg := Default()
	cfg.applyEnvOverride()
	if cfg.LogLevel != LogLevelDebug {
		t.Fatalf("expected env override to set DEBUG, got %s", cfg.LogLevel)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/kmsplay.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadWritesAndParses(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "kmsplay-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString("sources:\n  - file:///media/a.mp4\nprefer_hardware: false\n"); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PreferHardware {
		t.Fatal("expected prefer_hardware to be overridden to false")
	}
	if cfg.MaxDecodeAttempts != 3 {
		t.Fatalf("expected default max_decode_attempts of 3, got %d", cfg.MaxDecodeAttempts)
	}
}
