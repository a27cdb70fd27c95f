package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadWritesDefaultsWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DicomListener.Port != 11112 {
		t.Errorf("expected default port 11112, got %d", cfg.DicomListener.Port)
	}

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected default config to be written to %s: %v", path, err)
	}
}

func TestLoadMergesUserOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte("dicom_listener:\n  port: 9999\n  ae_title: CUSTOM\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DicomListener.Port != 9999 {
		t.Errorf("expected overridden port 9999, got %d", cfg.DicomListener.Port)
	}
	if cfg.DicomListener.AETitle != "CUSTOM" {
		t.Errorf("expected overridden ae_title CUSTOM, got %q", cfg.DicomListener.AETitle)
	}
	if cfg.Watcher.DebounceIntervalSeconds != 5 {
		t.Errorf("expected default debounce interval to survive merge, got %d", cfg.Watcher.DebounceIntervalSeconds)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.DicomListener.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for port 0")
	}
}

func TestValidateRejectsEmptyAETitle(t *testing.T) {
	cfg := Default()
	cfg.DicomListener.AETitle = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty ae_title")
	}
}
