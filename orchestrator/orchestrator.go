// Package orchestrator wires the spool, contour engine, series
// synthesiser, segmentation exporter, anonymiser, and sender into the
// study lifecycle: RECEIVING -> READY -> PROCESSING -> SENDING, ending in
// either DELETED (success) or QUARANTINED (any failure). It owns the only
// study-state map in the service and is the sole caller of
// watcher.Watcher.DispatchComplete.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/caio-sobreiro/dicomnet/anonymize"
	"github.com/caio-sobreiro/dicomnet/contour"
	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/rtstruct"
	"github.com/caio-sobreiro/dicomnet/seg"
	"github.com/caio-sobreiro/dicomnet/sender"
	"github.com/caio-sobreiro/dicomnet/series"
	"github.com/caio-sobreiro/dicomnet/spool"
)

// State names a point in a study's lifecycle.
type State string

const (
	StateReceiving   State = "RECEIVING"
	StateReady       State = "READY"
	StateProcessing  State = "PROCESSING"
	StateSending     State = "SENDING"
	StateDeleted     State = "DELETED"
	StateQuarantined State = "QUARANTINED"
)

// DispatchCompleter is the subset of *watcher.Watcher the orchestrator
// needs; satisfied by watcher.Watcher.
type DispatchCompleter interface {
	DispatchComplete(key spool.StudyKey)
}

// Config bundles everything a Dispatch run needs beyond the study key
// itself.
type Config struct {
	Spool                    *spool.Spool
	Watcher                  DispatchCompleter
	Anonymizer               *anonymize.Anonymizer
	IgnoreContourNames       []string
	SeriesOptions            series.Options
	EnableSegmentationExport bool
	SenderConfig             sender.Config
	Logger                   *slog.Logger
	TransactionLogger        *slog.Logger
	// Workers bounds how many studies Dispatch processes concurrently.
	// Defaults to 1.
	Workers int
}

// Orchestrator runs the study pipeline. Construct with New and start the
// worker pool with Run before any study is enqueued.
type Orchestrator struct {
	cfg Config

	mu     sync.Mutex
	states map[spool.StudyKey]State

	jobs chan spool.StudyKey
	wg   sync.WaitGroup
}

// New constructs an Orchestrator. cfg.Workers defaults to 1; the
// application logger defaults to slog.Default() when nil.
func New(cfg Config) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TransactionLogger == nil {
		cfg.TransactionLogger = cfg.Logger
	}
	return &Orchestrator{
		cfg:    cfg,
		states: make(map[spool.StudyKey]State),
		jobs:   make(chan spool.StudyKey, 64),
	}
}

// Run starts the bounded worker pool. Once ctx is cancelled each worker
// finishes the study it is dispatching, which does not see the
// cancellation, and then stops; jobs still queued may be left unstarted.
// Run does not block.
func (o *Orchestrator) Run(ctx context.Context) {
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}
}

// Wait blocks until every worker has exited, for use during graceful
// shutdown after the context passed to Run has been cancelled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case key, ok := <-o.jobs:
			if !ok {
				return
			}
			o.dispatchOne(context.WithoutCancel(ctx), key)
		case <-ctx.Done():
			return
		}
	}
}

// Dispatch is the watcher.DispatchFunc: it enqueues key for processing by
// the worker pool rather than running inline, so the debounce timer's own
// goroutine never blocks on pipeline work.
func (o *Orchestrator) Dispatch(key spool.StudyKey) {
	o.jobs <- key
}

// IsQuarantined is the watcher.IsQuarantinedFunc: studies already
// quarantined are never re-dispatched.
func (o *Orchestrator) IsQuarantined(key spool.StudyKey) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.states[key] == StateQuarantined
}

// SetWatcher assigns the DispatchCompleter after construction, for the
// common wiring order where the Watcher itself is built from this
// Orchestrator's Dispatch and IsQuarantined methods and so cannot be
// passed into New beforehand.
func (o *Orchestrator) SetWatcher(w DispatchCompleter) {
	o.cfg.Watcher = w
}

func (o *Orchestrator) setState(key spool.StudyKey, state State) {
	o.mu.Lock()
	o.states[key] = state
	o.mu.Unlock()
}

// dispatchOne runs the full pipeline for one study and always reports
// completion to the Watcher, whatever the outcome.
func (o *Orchestrator) dispatchOne(ctx context.Context, key spool.StudyKey) {
	defer o.cfg.Watcher.DispatchComplete(key)

	o.setState(key, StateProcessing)
	o.cfg.Logger.Info("dispatching study", "study_key", key)

	if err := o.runPipeline(ctx, key); err != nil {
		o.quarantine(key, err)
		return
	}

	if err := o.cfg.Spool.Cleanup(key); err != nil {
		o.logTransaction(key, "cleanup-failed", err)
		o.cfg.Logger.Error("failed to clean up study after successful send", "study_key", key, "error", err)
		return
	}

	o.setState(key, StateDeleted)
	o.logTransaction(key, "delivered", nil)
}

func (o *Orchestrator) quarantine(key spool.StudyKey, cause error) {
	reason := cause.Error()
	if err := o.cfg.Spool.Quarantine(key, reason); err != nil {
		o.cfg.Logger.Error("failed to quarantine study", "study_key", key, "quarantine_reason", reason, "error", err)
	}
	o.setState(key, StateQuarantined)
	o.logTransaction(key, "quarantined", cause)
}

func (o *Orchestrator) logTransaction(key spool.StudyKey, outcome string, cause error) {
	if cause == nil {
		o.cfg.TransactionLogger.Info("study lifecycle transition", "study_key", key, "outcome", outcome)
		return
	}
	kind := KindInternal
	var pipelineErr *Error
	if errors.As(cause, &pipelineErr) {
		kind = pipelineErr.Kind
	}
	o.cfg.TransactionLogger.Warn("study lifecycle transition", "study_key", key, "outcome", outcome, "error_kind", kind, "error", cause)
}

// runPipeline executes validation, anonymisation, contouring, synthesis,
// segmentation export, and sending, in that order, stopping at the first
// failure.
func (o *Orchestrator) runPipeline(ctx context.Context, key spool.StudyKey) error {
	dcmDir := o.cfg.Spool.PathFor(key, spool.SlotDCM)
	structDir := o.cfg.Spool.PathFor(key, spool.SlotStructure)

	dcmFiles, err := sender.CollectFiles(dcmDir)
	if err != nil {
		return wrap(KindIOError, err)
	}
	structFiles, err := sender.CollectFiles(structDir)
	if err != nil {
		return wrap(KindIOError, err)
	}
	if len(dcmFiles) == 0 || len(structFiles) == 0 {
		return wrap(KindIncompleteStudy, fmt.Errorf("study %s has %d reference images and %d structure sets", key, len(dcmFiles), len(structFiles)))
	}

	o.setState(key, StateReady)

	if err := o.anonymizeInPlace(dcmFiles); err != nil {
		return err
	}
	if err := o.anonymizeInPlace(structFiles); err != nil {
		return err
	}

	headers, err := contour.LoadSeriesHeaders(dcmDir)
	if err != nil {
		return wrap(KindIOError, err)
	}

	rois, err := o.loadROIs(key, structFiles)
	if err != nil {
		return err
	}

	kept, dropped := contour.FilterROIs(rois, o.cfg.IgnoreContourNames)
	for _, name := range dropped {
		o.cfg.Logger.Debug("dropping ignored ROI", "study_key", key, "roi", name)
	}

	seriesFOR := ""
	if len(headers) > 0 {
		seriesFOR = headers[0].FrameOfReferenceUID
	}
	matching, mismatched := contour.FilterByFrameOfReference(kept, seriesFOR)
	for _, name := range mismatched {
		o.cfg.Logger.Warn("coordinate-mismatch: rejecting ROI in a different frame of reference", "study_key", key, "roi", name, "series_frame_of_reference", seriesFOR)
	}
	if len(matching) == 0 {
		return wrap(KindCoordinateMismatch, fmt.Errorf("study %s: no ROI shares the reference series's frame of reference %s", key, seriesFOR))
	}
	kept = matching

	result, err := contour.BuildMask(headers, kept)
	if err != nil {
		return wrap(KindROIEmpty, err)
	}
	for _, warning := range result.Warnings {
		o.cfg.Logger.Warn("contour engine warning", "study_key", key, "warning", warning)
	}

	o.setState(key, StateProcessing)

	if _, err := series.Synthesize(o.cfg.Spool, key, headers, result, o.cfg.SeriesOptions); err != nil {
		return wrap(KindInternal, err)
	}

	if o.cfg.EnableSegmentationExport {
		warnings, err := seg.Export(o.cfg.Spool, key, headers, kept)
		if err != nil {
			return wrap(KindInternal, err)
		}
		for _, warning := range warnings {
			o.cfg.Logger.Warn("segmentation export warning", "study_key", key, "warning", warning)
		}
	}

	o.setState(key, StateSending)
	return o.sendAll(ctx, key)
}

// anonymizeInPlace rewrites each file's dataset through the configured
// Anonymizer and writes it back via the same write-to-temp-then-rename
// contract every other writer in this service uses.
func (o *Orchestrator) anonymizeInPlace(paths []string) error {
	if o.cfg.Anonymizer == nil {
		return nil
	}
	for _, path := range paths {
		if err := anonymizeFile(o.cfg.Anonymizer, path); err != nil {
			return wrap(KindCodecError, err)
		}
	}
	return nil
}

func anonymizeFile(anonymizer *anonymize.Anonymizer, path string) error {
	raw, err := readFile(path)
	if err != nil {
		return err
	}
	meta, dataset, err := dicom.ReadPart10(raw)
	if err != nil {
		return fmt.Errorf("orchestrator: parse %s: %w", path, err)
	}
	anonymizer.Anonymize(dataset)
	part10, err := dicom.WritePart10(*meta, dataset)
	if err != nil {
		return fmt.Errorf("orchestrator: re-encode %s: %w", path, err)
	}
	return writeInPlace(path, part10)
}

// loadROIs parses the structure set selected for processing. At most one
// structure set is expected per study; when more than one arrives, the
// lexicographically first file name is selected and the rest are retained
// in the spool untouched but logged as ambiguous.
func (o *Orchestrator) loadROIs(key spool.StudyKey, structFiles []string) ([]rtstruct.ROI, error) {
	sorted := append([]string(nil), structFiles...)
	sort.Strings(sorted)
	if len(sorted) > 1 {
		o.cfg.Logger.Warn("multiple structure sets in study, selecting lexicographically first", "study_key", key, "selected", sorted[0], "ignored", sorted[1:])
	}

	path := sorted[0]
	raw, err := readFile(path)
	if err != nil {
		return nil, wrap(KindIOError, err)
	}
	_, dataset, err := dicom.ReadPart10(raw)
	if err != nil {
		return nil, wrap(KindCodecError, fmt.Errorf("orchestrator: parse structure set %s: %w", path, err))
	}
	parsed, warnings, err := rtstruct.Parse(dataset)
	if err != nil {
		return nil, wrap(KindCodecError, fmt.Errorf("orchestrator: %s: %w", path, err))
	}
	for _, warning := range warnings {
		o.cfg.Logger.Warn("rtstruct parse warning", "path", path, "warning", warning)
	}
	return parsed.ROIs, nil
}

func (o *Orchestrator) sendAll(ctx context.Context, key spool.StudyKey) error {
	var paths []string
	for _, slot := range []spool.Slot{spool.SlotAddition, spool.SlotDebugDicom} {
		files, err := sender.CollectFiles(o.cfg.Spool.PathFor(key, slot))
		if err != nil {
			return wrap(KindIOError, err)
		}
		paths = append(paths, files...)
	}
	if o.cfg.EnableSegmentationExport {
		files, err := sender.CollectFiles(o.cfg.Spool.PathFor(key, spool.SlotSegmentation))
		if err != nil {
			return wrap(KindIOError, err)
		}
		paths = append(paths, files...)
	}

	if err := sender.SendBatch(ctx, o.cfg.SenderConfig, paths); err != nil {
		var fatal *sender.FatalError
		if errors.As(err, &fatal) {
			return wrap(KindSendFatal, err)
		}
		return wrap(KindSendTransient, err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: read %s: %w", path, err)
	}
	return data, nil
}

// writeInPlace overwrites path via the write-to-temp-then-rename contract,
// reusing the same directory so the rename stays within one filesystem.
func writeInPlace(path string, data []byte) error {
	return spool.WriteAtomic(filepath.Dir(path), filepath.Base(path), data)
}
