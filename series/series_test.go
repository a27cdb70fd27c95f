package series

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caio-sobreiro/dicomnet/contour"
	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/spool"
	"github.com/caio-sobreiro/dicomnet/types"
)

func writeSourceInstance(t *testing.T, dir string, sopInstanceUID string, rows, columns int) string {
	t.Helper()
	dataset := dicom.NewDataset()
	dataset.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, types.CTImageStorage)
	dataset.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, sopInstanceUID)
	dataset.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, "1.2.3")
	dataset.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, "1.2.3.1")
	dataset.AddElement(dicom.TagRows, dicom.VR_US, uint16(rows))
	dataset.AddElement(dicom.TagColumns, dicom.VR_US, uint16(columns))
	dataset.AddElement(dicom.TagBitsAllocated, dicom.VR_US, uint16(16))
	dataset.SetFloat64s(dicom.TagImagePositionPatient, dicom.VR_DS, []float64{0, 0, 0})
	dataset.SetFloat64s(dicom.TagImageOrientationPatient, dicom.VR_DS, []float64{1, 0, 0, 0, 1, 0})
	dataset.SetFloat64s(dicom.TagPixelSpacing, dicom.VR_DS, []float64{1, 1})
	dataset.AddElement(dicom.TagPixelData, dicom.VR_OW, make([]byte, rows*columns*2))

	part10, err := dicom.WritePart10(dicom.FileMeta{
		TransferSyntaxUID: types.ExplicitVRLittleEndian,
		SOPClassUID:       types.CTImageStorage,
		SOPInstanceUID:    sopInstanceUID,
	}, dataset)
	if err != nil {
		t.Fatalf("WritePart10: %v", err)
	}

	path := filepath.Join(dir, sopInstanceUID+".dcm")
	if err := os.WriteFile(path, part10, 0o644); err != nil {
		t.Fatalf("write source instance: %v", err)
	}
	return path
}

func TestSynthesizeWritesOnlyMaskedSlices(t *testing.T) {
	sp, err := spool.New(t.TempDir(), "quarantine")
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	key, _ := spool.SafeKey("study1")
	if err := sp.Create(key); err != nil {
		t.Fatalf("spool.Create: %v", err)
	}

	dcmDir := sp.PathFor(key, spool.SlotDCM)
	pathA := writeSourceInstance(t, dcmDir, "1.2.3.10", 8, 8)
	pathB := writeSourceInstance(t, dcmDir, "1.2.3.11", 8, 8)

	headers := []*contour.SliceHeader{
		{SourcePath: pathA, SOPClassUID: types.CTImageStorage, Rows: 8, Columns: 8, TransferSyntaxUID: types.ExplicitVRLittleEndian},
		{SourcePath: pathB, SOPClassUID: types.CTImageStorage, Rows: 8, Columns: 8, TransferSyntaxUID: types.ExplicitVRLittleEndian},
	}
	result := &contour.Result{Masks: []*contour.Mask{nil, contour.NewMask(8, 8)}}

	written, err := Synthesize(sp, key, headers, result, Options{
		SeriesDescription: "RT CONTOUR OVERLAY",
		SeriesNumber:       99,
		BurnInText:          "RESEARCH IMAGE",
	})
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if written != 1 {
		t.Fatalf("expected exactly 1 derived instance, got %d", written)
	}

	entries, err := os.ReadDir(sp.PathFor(key, spool.SlotAddition))
	if err != nil {
		t.Fatalf("read Addition dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file in Addition, got %d", len(entries))
	}
}

func TestSynthesizeRejectsMismatchedHeaderAndMaskCounts(t *testing.T) {
	sp, _ := spool.New(t.TempDir(), "quarantine")
	key, _ := spool.SafeKey("study1")
	sp.Create(key)

	_, err := Synthesize(sp, key, []*contour.SliceHeader{{}}, &contour.Result{Masks: nil}, Options{})
	if err == nil {
		t.Fatal("expected an error for mismatched header/mask counts")
	}
}

func TestSynthesizeEmitsColorDebugCapture(t *testing.T) {
	sp, err := spool.New(t.TempDir(), "quarantine")
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	key, _ := spool.SafeKey("study1")
	if err := sp.Create(key); err != nil {
		t.Fatalf("spool.Create: %v", err)
	}

	dcmDir := sp.PathFor(key, spool.SlotDCM)
	pathA := writeSourceInstance(t, dcmDir, "1.2.3.10", 4, 4)

	headers := []*contour.SliceHeader{
		{SourcePath: pathA, SOPClassUID: types.CTImageStorage, Rows: 4, Columns: 4, TransferSyntaxUID: types.ExplicitVRLittleEndian},
	}
	mask := contour.NewMask(4, 4)
	mask.Set(0, 0)
	result := &contour.Result{Masks: []*contour.Mask{mask}}

	if _, err := Synthesize(sp, key, headers, result, Options{EmitDebugCapture: true}); err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}

	entries, err := os.ReadDir(sp.PathFor(key, spool.SlotDebugDicom))
	if err != nil {
		t.Fatalf("read DebugDicom dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 file in DebugDicom, got %d", len(entries))
	}

	raw, err := os.ReadFile(filepath.Join(sp.PathFor(key, spool.SlotDebugDicom), entries[0].Name()))
	if err != nil {
		t.Fatalf("read debug capture: %v", err)
	}
	_, dataset, err := dicom.ReadPart10(raw)
	if err != nil {
		t.Fatalf("ReadPart10: %v", err)
	}
	if got := dataset.GetString(dicom.TagPhotometricInterpretation); got != "RGB" {
		t.Fatalf("PhotometricInterpretation = %q, want RGB", got)
	}
	pixelData := dataset.GetBytes(dicom.TagPixelData)
	if len(pixelData) != 4*4*3 {
		t.Fatalf("expected %d RGB bytes, got %d", 4*4*3, len(pixelData))
	}
	// The masked pixel (0,0) should differ from an unmasked one once tinted.
	if pixelData[0] == pixelData[3] && pixelData[1] == pixelData[4] && pixelData[2] == pixelData[5] {
		t.Fatal("expected the masked pixel to be tinted differently from its unmasked neighbour")
	}
}

func TestNewUIDIsWellFormedAndUnique(t *testing.T) {
	a := NewUID()
	b := NewUID()
	if a == b {
		t.Fatal("expected distinct UIDs across calls")
	}
	if len(a) < 6 || a[:5] != "2.25." {
		t.Fatalf("expected a UID under the 2.25. root, got %s", a)
	}
}
