// Package spool owns every on-disk path the service touches: the
// per-study directory tree under the working directory, and the
// quarantine subtree studies are moved into on failure. No other
// component writes, renames, or deletes a study path directly.
package spool

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// StudyKey is a sanitised study-level identifier, safe to use as a
// directory name. Construct one with SafeKey; the zero value is invalid.
type StudyKey string

// Slot names one of the fixed subdirectories inside a study directory.
type Slot string

const (
	SlotDCM          Slot = "DCM"
	SlotStructure    Slot = "Structure"
	SlotAddition     Slot = "Addition"
	SlotDebugDicom   Slot = "DebugDicom"
	SlotSegmentation Slot = "Segmentation"
)

var allSlots = []Slot{SlotDCM, SlotStructure, SlotAddition, SlotDebugDicom, SlotSegmentation}

const studyDirPrefix = "UID_"

var validKeyChars = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Spool resolves and mutates every on-disk path for the service.
type Spool struct {
	WorkingDir   string
	QuarantineDir string
}

// New returns a Spool rooted at workingDir, with its quarantine subtree at
// workingDir/quarantineSubdir, creating both if they do not exist.
func New(workingDir, quarantineSubdir string) (*Spool, error) {
	if workingDir == "" {
		return nil, fmt.Errorf("spool: working directory must not be empty")
	}
	if quarantineSubdir == "" {
		quarantineSubdir = "quarantine"
	}

	s := &Spool{
		WorkingDir:    workingDir,
		QuarantineDir: filepath.Join(workingDir, quarantineSubdir),
	}

	if err := os.MkdirAll(s.WorkingDir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create working dir: %w", err)
	}
	if err := os.MkdirAll(s.QuarantineDir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create quarantine dir: %w", err)
	}

	return s, nil
}

// SafeKey sanitises a raw study identifier into a StudyKey usable as a
// directory component. It rejects path separators, ASCII NUL, a leading
// dot, and anything containing a traversal sequence — the malformed
// identifier must never reach the filesystem.
func SafeKey(raw string) (StudyKey, error) {
	if raw == "" {
		return "", fmt.Errorf("spool: empty study identifier")
	}
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("spool: study identifier contains NUL")
	}
	if strings.ContainsAny(raw, `/\`) {
		return "", fmt.Errorf("spool: study identifier contains a path separator")
	}
	if strings.HasPrefix(raw, ".") {
		return "", fmt.Errorf("spool: study identifier has a leading dot")
	}
	if strings.Contains(raw, "..") {
		return "", fmt.Errorf("spool: study identifier contains a traversal sequence")
	}
	if len(raw) > 128 {
		return "", fmt.Errorf("spool: study identifier exceeds 128 bytes")
	}
	if !validKeyChars.MatchString(raw) {
		return "", fmt.Errorf("spool: study identifier contains disallowed characters")
	}
	return StudyKey(raw), nil
}

func (s *Spool) studyDirName(key StudyKey) string {
	return studyDirPrefix + string(key)
}

// StudyDir returns the root directory for key, whether or not it exists.
func (s *Spool) StudyDir(key StudyKey) string {
	return filepath.Join(s.WorkingDir, s.studyDirName(key))
}

// PathFor returns the directory for a given slot within key's study tree.
func (s *Spool) PathFor(key StudyKey, slot Slot) string {
	return filepath.Join(s.StudyDir(key), string(slot))
}

// Create makes the study directory and its fixed subdirectories.
func (s *Spool) Create(key StudyKey) error {
	for _, slot := range allSlots {
		if err := os.MkdirAll(s.PathFor(key, slot), 0o755); err != nil {
			return fmt.Errorf("spool: create %s/%s: %w", key, slot, err)
		}
	}
	return nil
}

// Exists reports whether key's study directory is present on disk.
func (s *Spool) Exists(key StudyKey) bool {
	info, err := os.Stat(s.StudyDir(key))
	return err == nil && info.IsDir()
}

// ListStudies enumerates study keys currently present directly under the
// working directory, skipping the quarantine subtree and anything that
// does not look like a study directory.
func (s *Spool) ListStudies() ([]StudyKey, error) {
	entries, err := os.ReadDir(s.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("spool: list working dir: %w", err)
	}

	var keys []StudyKey
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, studyDirPrefix) {
			continue
		}
		keys = append(keys, StudyKey(strings.TrimPrefix(name, studyDirPrefix)))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// Quarantine atomically moves key's study directory under the quarantine
// subtree, always suffixing the destination name with the current
// timestamp, and writes a sibling reason.txt. Either the move fully
// succeeds or the source is left untouched.
func (s *Spool) Quarantine(key StudyKey, reason string) error {
	src := s.StudyDir(key)
	destName := fmt.Sprintf("%s%s_%d", studyDirPrefix, key, time.Now().UnixNano())
	dest := filepath.Join(s.QuarantineDir, destName)

	if err := os.Rename(src, dest); err != nil {
		if copyErr := copyThenRemove(src, dest); copyErr != nil {
			return fmt.Errorf("spool: quarantine %s: rename failed (%v) and fallback copy failed: %w", key, err, copyErr)
		}
	}

	if err := os.WriteFile(filepath.Join(dest, "reason.txt"), []byte(reason+"\n"), 0o644); err != nil {
		return fmt.Errorf("spool: write reason.txt for %s: %w", key, err)
	}

	return nil
}

// Cleanup removes key's study directory recursively. It is idempotent: a
// second call after the directory is already gone is a no-op.
func (s *Spool) Cleanup(key StudyKey) error {
	if err := os.RemoveAll(s.StudyDir(key)); err != nil {
		return fmt.Errorf("spool: cleanup %s: %w", key, err)
	}
	return nil
}

// copyThenRemove implements the cross-filesystem fallback for Quarantine:
// copy the tree to dest, fsync each file, then remove the source. A
// failure partway through is reported to the caller as a fatal condition —
// the spool is considered unreliable once this path is exercised and
// fails.
func copyThenRemove(src, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	err := filepath.Walk(src, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
	if err != nil {
		return err
	}

	return os.RemoveAll(src)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// WriteAtomic writes data to a file inside dir named name using the
// write-to-temp-then-rename contract the listener, anonymiser, and
// synthesiser all depend on: the Watcher and Sender must never observe a
// half-written file.
func WriteAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("spool: create dir %s: %w", dir, err)
	}

	finalPath := filepath.Join(dir, name)
	tmpPath := finalPath + ".part"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("spool: create temp file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("spool: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("spool: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("spool: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("spool: rename into place: %w", err)
	}

	return nil
}
