package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/sender"
	"github.com/caio-sobreiro/dicomnet/series"
	"github.com/caio-sobreiro/dicomnet/spool"
	"github.com/caio-sobreiro/dicomnet/types"
)

// fakeCompleter records DispatchComplete calls instead of driving a real
// Watcher, so these tests can exercise the orchestrator in isolation.
type fakeCompleter struct {
	mu   sync.Mutex
	done []spool.StudyKey
}

func (f *fakeCompleter) DispatchComplete(key spool.StudyKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, key)
}

func newTestSpool(t *testing.T) *spool.Spool {
	t.Helper()
	sp, err := spool.New(t.TempDir(), "quarantine")
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	return sp
}

func writeCTInstance(t *testing.T, dir, sopInstanceUID string) {
	t.Helper()
	dataset := dicom.NewDataset()
	dataset.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, types.CTImageStorage)
	dataset.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, sopInstanceUID)
	dataset.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, "1.2.3")
	dataset.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, "1.2.3.1")
	dataset.AddElement(dicom.TagFrameOfReferenceUID, dicom.VR_UI, "1.2.3.9")
	dataset.AddElement(dicom.TagRows, dicom.VR_US, uint16(4))
	dataset.AddElement(dicom.TagColumns, dicom.VR_US, uint16(4))
	dataset.AddElement(dicom.TagBitsAllocated, dicom.VR_US, uint16(16))
	dataset.SetFloat64s(dicom.TagImagePositionPatient, dicom.VR_DS, []float64{0, 0, 0})
	dataset.SetFloat64s(dicom.TagImageOrientationPatient, dicom.VR_DS, []float64{1, 0, 0, 0, 1, 0})
	dataset.SetFloat64s(dicom.TagPixelSpacing, dicom.VR_DS, []float64{1, 1})
	dataset.AddElement(dicom.TagPixelData, dicom.VR_OW, make([]byte, 4*4*2))

	part10, err := dicom.WritePart10(dicom.FileMeta{
		TransferSyntaxUID: types.ExplicitVRLittleEndian,
		SOPClassUID:       types.CTImageStorage,
		SOPInstanceUID:    sopInstanceUID,
	}, dataset)
	if err != nil {
		t.Fatalf("WritePart10 CT instance: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, sopInstanceUID+".dcm"), part10, 0o644); err != nil {
		t.Fatalf("write CT instance: %v", err)
	}
}

func writeStructureSet(t *testing.T, dir, sopInstanceUID string) {
	t.Helper()
	roiDef := dicom.NewDataset()
	roiDef.AddElement(dicom.TagROINumber, dicom.VR_IS, "1")
	roiDef.AddElement(dicom.TagROIName, dicom.VR_LO, "Cord")
	roiDef.AddElement(dicom.TagReferencedFrameOfReference, dicom.VR_UI, "1.2.3.9")

	contourItem := dicom.NewDataset()
	contourItem.AddElement(dicom.TagReferencedROINumber, dicom.VR_IS, "1")
	contourSeqItem := dicom.NewDataset()
	contourSeqItem.AddElement(dicom.TagContourData, dicom.VR_DS, `1\1\0\3\1\0\3\3\0\1\3\0`)
	contourItem.AddElement(dicom.TagContourSequence, dicom.VR_SQ, []*dicom.Dataset{contourSeqItem})

	dataset := dicom.NewDataset()
	dataset.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, types.RTStructureSetStorage)
	dataset.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, sopInstanceUID)
	dataset.AddElement(dicom.TagStructureSetROISequence, dicom.VR_SQ, []*dicom.Dataset{roiDef})
	dataset.AddElement(dicom.TagROIContourSequence, dicom.VR_SQ, []*dicom.Dataset{contourItem})

	part10, err := dicom.WritePart10(dicom.FileMeta{
		TransferSyntaxUID: types.ExplicitVRLittleEndian,
		SOPClassUID:       types.RTStructureSetStorage,
		SOPInstanceUID:    sopInstanceUID,
	}, dataset)
	if err != nil {
		t.Fatalf("WritePart10 structure set: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, sopInstanceUID+".dcm"), part10, 0o644); err != nil {
		t.Fatalf("write structure set: %v", err)
	}
}

func TestDispatchOneQuarantinesIncompleteStudy(t *testing.T) {
	sp := newTestSpool(t)
	key, _ := spool.SafeKey("study1")
	if err := sp.Create(key); err != nil {
		t.Fatalf("spool.Create: %v", err)
	}

	completer := &fakeCompleter{}
	o := New(Config{Spool: sp, Watcher: completer})

	o.dispatchOne(context.Background(), key)

	if len(completer.done) != 1 || completer.done[0] != key {
		t.Fatalf("expected DispatchComplete to be called once with %s, got %v", key, completer.done)
	}
	if sp.Exists(key) {
		t.Fatal("expected the study directory to be removed (quarantined), not left in place")
	}

	entries, err := os.ReadDir(sp.QuarantineDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one quarantined entry, got %v (err=%v)", entries, err)
	}
	reason, err := os.ReadFile(filepath.Join(sp.QuarantineDir, entries[0].Name(), "reason.txt"))
	if err != nil {
		t.Fatalf("read reason.txt: %v", err)
	}
	if !strings.Contains(string(reason), string(KindIncompleteStudy)) {
		t.Errorf("expected quarantine reason to mention %s, got %q", KindIncompleteStudy, reason)
	}
	if o.IsQuarantined(key) != true {
		t.Error("expected study to be marked quarantined")
	}
}

func TestDispatchOneQuarantinesOnUnreachableDestination(t *testing.T) {
	sp := newTestSpool(t)
	key, _ := spool.SafeKey("study2")
	if err := sp.Create(key); err != nil {
		t.Fatalf("spool.Create: %v", err)
	}
	writeCTInstance(t, sp.PathFor(key, spool.SlotDCM), "1.2.3.100")
	writeStructureSet(t, sp.PathFor(key, spool.SlotStructure), "1.2.3.200")

	completer := &fakeCompleter{}
	o := New(Config{
		Spool:   sp,
		Watcher: completer,
		SeriesOptions: series.Options{
			SeriesDescription: "RT CONTOUR OVERLAY",
			SeriesNumber:      99,
		},
		SenderConfig: sender.Config{
			Address:        "127.0.0.1:1",
			CallingAETitle: "NETRT",
			CalledAETitle:  "ARCHIVE",
			MaxAttempts:    1,
			BackoffBase:    time.Millisecond,
			ConnectTimeout: 200 * time.Millisecond,
		},
	})

	o.dispatchOne(context.Background(), key)

	if len(completer.done) != 1 {
		t.Fatalf("expected DispatchComplete to be called once, got %v", completer.done)
	}
	if sp.Exists(key) {
		t.Fatal("expected the study directory to be quarantined, not left in place")
	}
	entries, err := os.ReadDir(sp.QuarantineDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one quarantined entry, got %v (err=%v)", entries, err)
	}
}

func TestPipelineErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := wrap(KindROIEmpty, cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to see through the pipeline Error wrapper")
	}
	var pipelineErr *Error
	if !errors.As(err, &pipelineErr) || pipelineErr.Kind != KindROIEmpty {
		t.Fatalf("expected errors.As to recover the Kind, got %+v", pipelineErr)
	}
}

func TestWrapNilCauseReturnsNilError(t *testing.T) {
	if err := wrap(KindInternal, nil); err != nil {
		t.Fatalf("expected wrap(kind, nil) to return nil, got %v", err)
	}
}
