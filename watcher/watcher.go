// Package watcher implements the debounced, single-flight study dispatcher
// described by the service's concurrency contract: for each study, trigger
// processing exactly once, only after reception has quiesced, with at most
// one processing attempt in flight at any moment.
package watcher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/caio-sobreiro/dicomnet/spool"
)

// DispatchFunc is called, on its own goroutine, once a study's debounce
// timer fires and it clears the single-flight check. The Watcher does not
// wait for it to return.
type DispatchFunc func(key spool.StudyKey)

// IsQuarantinedFunc reports whether a study is already in the terminal
// quarantined state; such studies are never (re-)dispatched.
type IsQuarantinedFunc func(key spool.StudyKey) bool

// Config tunes debounce behaviour.
type Config struct {
	DebounceInterval          time.Duration
	MinFileCountForProcessing int
	// RetryInterval is the short re-arm delay used when a timer fires while
	// a dispatch is already in flight for that study.
	RetryInterval time.Duration
}

type studyState struct {
	mu        sync.Mutex
	fileCount int
	scheduled bool
	timer     *time.Timer
}

// Watcher owns the StudyKey -> {fileCount, scheduled, timer} map
// and the per-study debounce timers. It holds no on-disk state itself;
// the Spool is the source of truth it consults for restart recovery.
type Watcher struct {
	cfg           Config
	dispatch      DispatchFunc
	isQuarantined IsQuarantinedFunc
	logger        *slog.Logger

	mu     sync.Mutex
	states map[spool.StudyKey]*studyState
}

// New constructs a Watcher. cfg.RetryInterval defaults to one second.
func New(cfg Config, dispatch DispatchFunc, isQuarantined IsQuarantinedFunc, logger *slog.Logger) *Watcher {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:           cfg,
		dispatch:      dispatch,
		isQuarantined: isQuarantined,
		logger:        logger,
		states:        make(map[spool.StudyKey]*studyState),
	}
}

// OnFileActivity records a file-activity event for key: increments its
// file count and (re)arms its debounce timer for cfg.DebounceInterval from
// now. Monotonic timer semantics (time.AfterFunc) make this immune to
// wall-clock drift.
func (w *Watcher) OnFileActivity(key spool.StudyKey) {
	state := w.stateFor(key)

	state.mu.Lock()
	state.fileCount++
	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(w.cfg.DebounceInterval, func() { w.fire(key) })
	state.mu.Unlock()
}

func (w *Watcher) stateFor(key spool.StudyKey) *studyState {
	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.states[key]
	if !ok {
		state = &studyState{}
		w.states[key] = state
	}
	return state
}

func (w *Watcher) fire(key spool.StudyKey) {
	state := w.stateFor(key)

	state.mu.Lock()
	if w.isQuarantined != nil && w.isQuarantined(key) {
		state.mu.Unlock()
		return
	}
	if state.scheduled {
		// A dispatch is already in flight; re-arm a short retry.
		// DispatchComplete stops this timer and removes the entry once the
		// in-flight attempt finishes, so events that arrived during the
		// attempt do not by themselves trigger another dispatch.
		state.timer = time.AfterFunc(w.cfg.RetryInterval, func() { w.fire(key) })
		state.mu.Unlock()
		return
	}
	if state.fileCount < w.cfg.MinFileCountForProcessing {
		state.mu.Unlock()
		return
	}

	state.scheduled = true
	state.mu.Unlock()

	w.logger.Debug("dispatching study", "study_key", key, "file_count", state.fileCount)
	go w.dispatch(key)
}

// DispatchComplete must be called by the Orchestrator on every lifecycle
// terminal transition (success or quarantine). It clears the scheduled
// flag and removes the study's state entry; a subsequent OnFileActivity
// for the same key (re-receive) starts fresh.
func (w *Watcher) DispatchComplete(key spool.StudyKey) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.states[key]
	if !ok {
		return
	}
	state.mu.Lock()
	if state.timer != nil {
		state.timer.Stop()
	}
	state.mu.Unlock()

	delete(w.states, key)
}

// RecoverFromDisk enumerates the spool's working directory and synthesises
// a file-activity event per discovered study, so studies left mid-pipeline
// by a crash are picked back up. Studies under the quarantine subtree are
// never scanned (ListStudies already excludes them).
func (w *Watcher) RecoverFromDisk(sp *spool.Spool) error {
	keys, err := sp.ListStudies()
	if err != nil {
		return err
	}
	for _, key := range keys {
		w.logger.Info("recovering study from disk", "study_key", key)
		w.OnFileActivity(key)
	}
	return nil
}
