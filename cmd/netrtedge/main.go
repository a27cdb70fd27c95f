// Command netrtedge runs the radiotherapy edge service: a C-STORE SCP that
// spools incoming studies, derives a contour-overlay series and (when
// enabled) a Segmentation export once a study's structure set arrives, and
// forwards the result to the configured archive via C-STORE SCU.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caio-sobreiro/dicomnet/anonymize"
	"github.com/caio-sobreiro/dicomnet/config"
	"github.com/caio-sobreiro/dicomnet/listener"
	"github.com/caio-sobreiro/dicomnet/logging"
	"github.com/caio-sobreiro/dicomnet/orchestrator"
	"github.com/caio-sobreiro/dicomnet/sender"
	"github.com/caio-sobreiro/dicomnet/series"
	"github.com/caio-sobreiro/dicomnet/server"
	"github.com/caio-sobreiro/dicomnet/spool"
	"github.com/caio-sobreiro/dicomnet/watcher"
	"github.com/spf13/cobra"
)

const shutdownGracePeriod = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:           "netrtedge",
		Short:         "DICOM radiotherapy contour-overlay edge service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath, debug)
		},
	}
	root.Flags().StringVar(&configPath, "config", "./config.yaml", "path to the service's YAML configuration file")
	root.Flags().BoolVar(&debug, "debug", false, "force-enable debug visualisation capture regardless of configuration")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		if errors.Is(err, errStartup) {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	return 0
}

// errStartup marks failures that occur before the service begins serving
// traffic (bad config, bind failure) as exit code 1; anything else that
// surfaces from serve is a runtime abort, exit code 2.
var errStartup = errors.New("startup")

func serve(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errStartup, err)
	}
	if debug {
		cfg.FeatureFlags.EnableDebugVisualisation = true
	}

	loggers, err := logging.New(cfg.Logging, cfg.Directories.Logs)
	if err != nil {
		return fmt.Errorf("%w: %v", errStartup, err)
	}
	defer loggers.Close()

	sp, err := spool.New(cfg.Directories.Working, cfg.Directories.QuarantineSubdir)
	if err != nil {
		return fmt.Errorf("%w: %v", errStartup, err)
	}

	anonymizer := anonymize.New(anonymize.Config{
		Enabled:                  cfg.Anonymization.Enabled,
		FullAnonymizationEnabled: cfg.Anonymization.FullAnonymizationEnabled,
		Rules: anonymize.Rules{
			RemoveTags:             cfg.Anonymization.Rules.RemoveTags,
			BlankTags:              cfg.Anonymization.Rules.BlankTags,
			GenerateRandomIDPrefix: cfg.Anonymization.Rules.GenerateRandomIDPrefix,
		},
	})

	burnInText := ""
	if cfg.Processing.AddBurnInDisclaimer {
		burnInText = cfg.Processing.BurnInText
	}

	orch := orchestrator.New(orchestrator.Config{
		Spool:              sp,
		Anonymizer:         anonymizer,
		IgnoreContourNames: cfg.Processing.IgnoreContourNamesContaining,
		SeriesOptions: series.Options{
			SeriesDescription: cfg.Processing.OverlaySeriesDescription,
			SeriesNumber:      cfg.Processing.OverlaySeriesNumber,
			BurnInText:        burnInText,
			EmitDebugCapture:  cfg.FeatureFlags.EnableDebugVisualisation,
		},
		EnableSegmentationExport: cfg.FeatureFlags.EnableSegmentationExport,
		SenderConfig: sender.Config{
			Address:        net.JoinHostPort(cfg.DicomDestination.IP, fmt.Sprintf("%d", cfg.DicomDestination.Port)),
			CallingAETitle: cfg.DicomListener.AETitle,
			CalledAETitle:  cfg.DicomDestination.AETitle,
			Logger:         loggers.Application,
		},
		Logger:            loggers.Application,
		TransactionLogger: loggers.Transaction,
	})

	w := watcher.New(watcher.Config{
		DebounceInterval:          time.Duration(cfg.Watcher.DebounceIntervalSeconds) * time.Second,
		MinFileCountForProcessing: cfg.Watcher.MinFileCountForProcessing,
	}, orch.Dispatch, orch.IsQuarantined, loggers.Application)
	orch.SetWatcher(w)

	if err := w.RecoverFromDisk(sp); err != nil {
		loggers.Application.Error("failed to recover studies from disk", "error", err)
	}

	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	orch.Run(runCtx)

	handler := listener.NewHandler(sp, w.OnFileActivity, loggers.Application)

	listenAddr := net.JoinHostPort(cfg.DicomListener.Host, fmt.Sprintf("%d", cfg.DicomListener.Port))
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("%w: %v", errStartup, err)
	}
	defer ln.Close()
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.New(cfg.DicomListener.AETitle, handler).Serve(ctx, ln)
	}()

	select {
	case <-ctx.Done():
		loggers.Application.Info("shutdown signal received, waiting for in-flight studies to finish")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancelShutdown()
		stopWorkers()
		waitDone := make(chan struct{})
		go func() {
			orch.Wait()
			close(waitDone)
		}()
		select {
		case <-waitDone:
		case <-shutdownCtx.Done():
			loggers.Application.Warn("shutdown grace period elapsed with studies still in flight")
		}
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listener stopped: %w", err)
		}
		return nil
	}
}
