package seg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/caio-sobreiro/dicomnet/contour"
	"github.com/caio-sobreiro/dicomnet/rtstruct"
	"github.com/caio-sobreiro/dicomnet/spool"
	"gonum.org/v1/gonum/spatial/r3"
)

func testHeader(z float64) *contour.SliceHeader {
	return &contour.SliceHeader{
		ImagePositionPatient:    r3.Vec{X: 0, Y: 0, Z: z},
		ImageOrientationPatient: [6]float64{1, 0, 0, 0, 1, 0},
		PixelSpacingRow:         1,
		PixelSpacingColumn:      1,
		Rows:                    8,
		Columns:                 8,
		FrameOfReferenceUID:     "1.2.3",
	}
}

func TestExportWritesOneInstancePerContributingROI(t *testing.T) {
	sp, err := spool.New(t.TempDir(), "quarantine")
	if err != nil {
		t.Fatalf("spool.New: %v", err)
	}
	key, _ := spool.SafeKey("study1")
	if err := sp.Create(key); err != nil {
		t.Fatalf("spool.Create: %v", err)
	}

	headers := []*contour.SliceHeader{testHeader(0), testHeader(10)}
	rois := []rtstruct.ROI{
		{
			Name: "Cord",
			Contours: []rtstruct.ContourPolygon{
				{Points: []float64{2, 2, 10, 6, 2, 10, 6, 6, 10, 2, 6, 10}},
			},
		},
		{
			Name:     "Empty",
			Contours: nil,
		},
	}

	warnings, err := Export(sp, key, headers, rois)
	if err != nil {
		t.Fatalf("Export returned error: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning for the empty ROI, got %v", warnings)
	}

	entries, err := os.ReadDir(sp.PathFor(key, spool.SlotSegmentation))
	if err != nil {
		t.Fatalf("read Segmentation dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 segmentation instance, got %d", len(entries))
	}
	if filepath.Base(entries[0].Name()) != "Cord.dcm" {
		t.Errorf("expected file named Cord.dcm, got %s", entries[0].Name())
	}
}

func TestSanitizeFileNameReplacesDisallowedCharacters(t *testing.T) {
	if got := sanitizeFileName("PTV 1/Boost"); got != "PTV_1_Boost" {
		t.Errorf("unexpected sanitized name: %q", got)
	}
}
