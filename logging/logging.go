// Package logging builds the two named log sinks the service writes to:
// an application logger for general operational messages and a separate
// transaction logger carrying one structured record per study lifecycle
// transition. Both are *slog.Logger handles injected into component
// constructors; nothing here is reached through a package-level global.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caio-sobreiro/dicomnet/config"
)

// Loggers bundles the two sinks produced by New.
type Loggers struct {
	Application *slog.Logger
	Transaction *slog.Logger

	closers []io.Closer
}

// Close releases the underlying log files, if any were opened.
func (l *Loggers) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// New builds the application and transaction loggers from cfg. The
// application sink tees to stderr in addition to its log file so a
// foreground run is still observable; the transaction sink writes to its
// log file only. A log file that cannot be opened falls back to stderr for
// that sink rather than refusing to start, since logging itself must never
// be the reason the service cannot run.
func New(cfg config.LoggingConfig, logsDir string) (*Loggers, error) {
	level := parseLevel(cfg.Level)

	var closers []io.Closer

	appWriter, appCloser, err := openSink(logsDir, cfg.ApplicationLogFile)
	if err != nil {
		appWriter = os.Stderr
	} else if appCloser != nil {
		closers = append(closers, appCloser)
	}

	txWriter, txCloser, err := openSink(logsDir, cfg.TransactionLogFile)
	if err != nil {
		txWriter = os.Stderr
	} else if txCloser != nil {
		closers = append(closers, txCloser)
	}

	appHandler := newFanoutHandler(
		newHandler(cfg.Format, os.Stderr, level),
		newHandler(cfg.Format, appWriter, level),
	)
	txHandler := newHandler(cfg.Format, txWriter, slog.LevelInfo)

	return &Loggers{
		Application: slog.New(appHandler),
		Transaction: slog.New(txHandler),
		closers:     closers,
	}, nil
}

func openSink(logsDir, filename string) (io.Writer, io.Closer, error) {
	if filename == "" {
		return os.Stderr, nil, fmt.Errorf("logging: empty log filename")
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("logging: create logs dir %s: %w", logsDir, err)
	}
	f, err := os.OpenFile(filepath.Join(logsDir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open %s: %w", filename, err)
	}
	return f, f, nil
}

func newHandler(format string, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
