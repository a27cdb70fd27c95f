package spool

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSafeKeyRejectsTraversal(t *testing.T) {
	cases := []string{
		"../evil",
		"foo/../bar",
		"/etc/passwd",
		"a\x00b",
		".hidden",
		"",
	}
	for _, raw := range cases {
		if _, err := SafeKey(raw); err == nil {
			t.Errorf("SafeKey(%q) expected error, got nil", raw)
		}
	}
}

func TestSafeKeyAcceptsOrdinaryUIDs(t *testing.T) {
	key, err := SafeKey("1.2.840.113619.2.55.3.604688119.971.1678901234.123")
	if err != nil {
		t.Fatalf("SafeKey: %v", err)
	}
	if key == "" {
		t.Error("expected non-empty key")
	}
}

func TestCreateAndListStudies(t *testing.T) {
	dir := t.TempDir()
	sp, err := New(dir, "quarantine")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key, _ := SafeKey("study1")
	if err := sp.Create(key); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, slot := range allSlots {
		if info, err := os.Stat(sp.PathFor(key, slot)); err != nil || !info.IsDir() {
			t.Errorf("expected slot dir %s to exist", slot)
		}
	}

	keys, err := sp.ListStudies()
	if err != nil {
		t.Fatalf("ListStudies: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("expected [%s], got %v", key, keys)
	}
}

func TestListStudiesSkipsQuarantine(t *testing.T) {
	dir := t.TempDir()
	sp, err := New(dir, "quarantine")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key, _ := SafeKey("study1")
	sp.Create(key)

	keys, err := sp.ListStudies()
	if err != nil {
		t.Fatalf("ListStudies: %v", err)
	}
	for _, k := range keys {
		if string(k) == "quarantine" {
			t.Error("quarantine subtree should not be listed as a study")
		}
	}
}

func TestQuarantineMovesAndWritesReason(t *testing.T) {
	dir := t.TempDir()
	sp, err := New(dir, "quarantine")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key, _ := SafeKey("study1")
	sp.Create(key)
	os.WriteFile(filepath.Join(sp.PathFor(key, SlotDCM), "a.dcm"), []byte("data"), 0o644)

	if err := sp.Quarantine(key, "incomplete-study"); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}

	if sp.Exists(key) {
		t.Error("expected source study dir to be gone after quarantine")
	}

	entries, err := os.ReadDir(sp.QuarantineDir)
	if err != nil {
		t.Fatalf("read quarantine dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one quarantined study, got %d", len(entries))
	}

	reasonPath := filepath.Join(sp.QuarantineDir, entries[0].Name(), "reason.txt")
	data, err := os.ReadFile(reasonPath)
	if err != nil {
		t.Fatalf("read reason.txt: %v", err)
	}
	if string(data) != "incomplete-study\n" {
		t.Errorf("unexpected reason.txt contents: %q", data)
	}
}

func TestQuarantineAlwaysSuffixesTimestampOnReReceive(t *testing.T) {
	dir := t.TempDir()
	sp, err := New(dir, "quarantine")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key, _ := SafeKey("study1")

	sp.Create(key)
	if err := sp.Quarantine(key, "first"); err != nil {
		t.Fatalf("first Quarantine: %v", err)
	}

	sp.Create(key)
	if err := sp.Quarantine(key, "second"); err != nil {
		t.Fatalf("second Quarantine: %v", err)
	}

	entries, err := os.ReadDir(sp.QuarantineDir)
	if err != nil {
		t.Fatalf("read quarantine dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two independently-suffixed quarantine dirs, got %d", len(entries))
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sp, err := New(dir, "quarantine")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key, _ := SafeKey("study1")
	sp.Create(key)

	if err := sp.Cleanup(key); err != nil {
		t.Fatalf("first Cleanup: %v", err)
	}
	if err := sp.Cleanup(key); err != nil {
		t.Fatalf("second Cleanup should be a no-op, got: %v", err)
	}
}

func TestWriteAtomicLeavesNoPartFile(t *testing.T) {
	dir := t.TempDir()
	if err := WriteAtomic(dir, "instance.dcm", []byte("payload")); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "instance.dcm.part")); !os.IsNotExist(err) {
		t.Error("expected .part file to be gone after rename")
	}

	data, err := os.ReadFile(filepath.Join(dir, "instance.dcm"))
	if err != nil {
		t.Fatalf("read final file: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("unexpected contents: %q", data)
	}
}
