// Package sender implements the batch C-STORE SCU that transmits a
// study's derived output (and any DebugDicom capture) to the configured
// destination AE. A batch is all-or-nothing: if any instance cannot be
// sent, the whole batch is considered failed and the study is quarantined
// rather than left partially delivered at the destination.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caio-sobreiro/dicomnet/client"
	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/types"
)

// Config describes the destination AE and retry policy for a batch send.
type Config struct {
	Address        string
	CallingAETitle string
	CalledAETitle  string
	MaxAttempts    int
	BackoffBase    time.Duration
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// FatalError wraps a peer-rejected C-STORE (a non-success DIMSE status
// explicitly returned by the destination). Fatal errors are never retried;
// every other error from an attempt is, including a failure to read or
// parse one of the input files.
type FatalError struct {
	Path   string
	Status uint16
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("sender: destination rejected %s with status 0x%04X", e.Path, e.Status)
}

// CollectFiles returns every regular file directly under dir, suitable as
// a batch's input list. In-progress writes (*.part) are skipped.
func CollectFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("sender: read %s: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	return files, nil
}

// SendBatch transmits every file in paths over a single association,
// retrying the whole batch up to cfg.MaxAttempts times with exponential
// backoff when any error other than a FatalError occurs (connection and
// transport errors, and also local read or parse failures). A FatalError — an explicit peer rejection — aborts immediately without
// retry, since resending an instance the destination already refused
// cannot succeed.
func SendBatch(ctx context.Context, cfg Config, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	logger := cfg.logger()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := sendOnce(cfg, paths)
		if err == nil {
			return nil
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			logger.Error("destination rejected instance, aborting batch", "error", err)
			return err
		}

		lastErr = err
		logger.Warn("batch send attempt failed, will retry", "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err)

		if attempt < cfg.MaxAttempts {
			backoff := cfg.BackoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return fmt.Errorf("sender: batch failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

func sendOnce(cfg Config, paths []string) error {
	rawFiles := make([][]byte, len(paths))
	metas := make([]*dicom.FileMeta, len(paths))
	var abstractSyntaxes []string
	for i, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("sender: read %s: %w", path, err)
		}
		meta, _, err := dicom.ReadPart10(raw)
		if err != nil {
			return fmt.Errorf("sender: parse %s: %w", path, err)
		}
		rawFiles[i] = raw
		metas[i] = meta
		abstractSyntaxes = append(abstractSyntaxes, meta.SOPClassUID)
	}

	assoc, err := client.Connect(cfg.Address, client.Config{
		CallingAETitle:             cfg.CallingAETitle,
		CalledAETitle:              cfg.CalledAETitle,
		ConnectTimeout:             cfg.ConnectTimeout,
		Logger:                     cfg.logger(),
		AdditionalAbstractSyntaxes: abstractSyntaxes,
	})
	if err != nil {
		return fmt.Errorf("sender: connect to %s: %w", cfg.Address, err)
	}
	defer assoc.Close()

	for i, path := range paths {
		raw := rawFiles[i]
		meta := metas[i]

		resp, err := assoc.SendCStore(&client.CStoreRequest{
			SOPClassUID:    meta.SOPClassUID,
			SOPInstanceUID: meta.SOPInstanceUID,
			Data:           raw,
			MessageID:      uint16(i + 1),
		})
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) {
				return fmt.Errorf("sender: transport error sending %s: %w", path, err)
			}
			return fmt.Errorf("sender: send %s: %w", path, err)
		}
		if resp.Status != types.StatusSuccess {
			return &FatalError{Path: path, Status: resp.Status}
		}
	}

	return nil
}
