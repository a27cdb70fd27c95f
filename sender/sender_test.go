package sender

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCollectFilesSkipsPartFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.dcm"), []byte("a"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.dcm.part"), []byte("b"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	files, err := CollectFiles(dir)
	if err != nil {
		t.Fatalf("CollectFiles returned error: %v", err)
	}
	if len(files) != 1 || filepath.Base(files[0]) != "a.dcm" {
		t.Fatalf("expected only a.dcm, got %v", files)
	}
}

func TestCollectFilesMissingDirReturnsEmpty(t *testing.T) {
	files, err := CollectFiles(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("expected no error for a missing directory, got %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected no files, got %v", files)
	}
}

func TestSendBatchNoFilesIsNoop(t *testing.T) {
	if err := SendBatch(nil, Config{}, nil); err != nil {
		t.Fatalf("expected nil error for an empty batch, got %v", err)
	}
}

func TestFatalErrorMessage(t *testing.T) {
	err := &FatalError{Path: "/tmp/x.dcm", Status: 0xA700}
	if err.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}
}
