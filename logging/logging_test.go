package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caio-sobreiro/dicomnet/config"
)

func TestNewWritesToLogFiles(t *testing.T) {
	dir := t.TempDir()
	cfg := config.LoggingConfig{
		Level:              "debug",
		Format:             "text",
		ApplicationLogFile: "app.log",
		TransactionLogFile: "tx.log",
	}

	loggers, err := New(cfg, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer loggers.Close()

	loggers.Application.Info("listener started", "port", 11112)
	loggers.Transaction.Info("PROCESSING_SUCCESS", "study_key", "abc123")

	appData, err := os.ReadFile(filepath.Join(dir, "app.log"))
	if err != nil {
		t.Fatalf("read app.log: %v", err)
	}
	if len(appData) == 0 {
		t.Error("expected application log to contain data")
	}

	txData, err := os.ReadFile(filepath.Join(dir, "tx.log"))
	if err != nil {
		t.Fatalf("read tx.log: %v", err)
	}
	if len(txData) == 0 {
		t.Error("expected transaction log to contain data")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]bool{"debug": true, "warn": true, "error": true, "info": true, "": true}
	for level := range cases {
		_ = parseLevel(level)
	}
}
