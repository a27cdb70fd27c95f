package contour

import (
	"fmt"
	"strings"
	"testing"

	"github.com/caio-sobreiro/dicomnet/rtstruct"
	"gonum.org/v1/gonum/spatial/r3"
)

func axialHeader(z float64, instanceNumber int, sopUID string) *SliceHeader {
	return &SliceHeader{
		SOPInstanceUID:          sopUID,
		InstanceNumber:          instanceNumber,
		ImagePositionPatient:    r3.Vec{X: 0, Y: 0, Z: z},
		ImageOrientationPatient: [6]float64{1, 0, 0, 0, 1, 0},
		PixelSpacingRow:         1.0,
		PixelSpacingColumn:      1.0,
		Rows:                    10,
		Columns:                 10,
	}
}

func squareContour(z float64) []float64 {
	// A 4x4 square in patient space, spanning (2,2) to (6,6) within the 10x10 grid.
	return []float64{
		2, 2, z,
		6, 2, z,
		6, 6, z,
		2, 6, z,
	}
}

func TestOrderSlicesSortsByProjectedPosition(t *testing.T) {
	headers := []*SliceHeader{
		axialHeader(30, 3, "c"),
		axialHeader(10, 1, "a"),
		axialHeader(20, 2, "b"),
	}
	OrderSlices(headers)

	want := []string{"a", "b", "c"}
	for i, h := range headers {
		if h.SOPInstanceUID != want[i] {
			t.Fatalf("index %d: got %s, want %s", i, h.SOPInstanceUID, want[i])
		}
	}
}

func TestOrderSlicesTieBreaksByInstanceNumberThenUID(t *testing.T) {
	headers := []*SliceHeader{
		axialHeader(10, 5, "z"),
		axialHeader(10, 2, "y"),
		axialHeader(10, 2, "x"),
	}
	OrderSlices(headers)

	want := []string{"x", "y", "z"}
	for i, h := range headers {
		if h.SOPInstanceUID != want[i] {
			t.Fatalf("index %d: got %s, want %s", i, h.SOPInstanceUID, want[i])
		}
	}
}

func TestFilterROIsDropsCaseInsensitiveSubstringMatches(t *testing.T) {
	rois := []rtstruct.ROI{
		{Name: "PTV_Boost"},
		{Name: "Skull"},
		{Name: "Patient_Outline"},
		{Name: "Cord"},
	}

	kept, dropped := FilterROIs(rois, []string{"skull", "patient_outline"})

	if len(kept) != 2 {
		t.Fatalf("expected 2 kept ROIs, got %d: %v", len(kept), kept)
	}
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped ROIs, got %d: %v", len(dropped), dropped)
	}
}

func TestBuildMaskRejectsEmptyROIList(t *testing.T) {
	headers := []*SliceHeader{axialHeader(0, 1, "a")}
	_, err := BuildMask(headers, nil)
	if err == nil || !strings.Contains(err.Error(), "roi-empty") {
		t.Fatalf("expected roi-empty error, got %v", err)
	}
}

func TestBuildMaskRasterizesMatchingSlice(t *testing.T) {
	headers := []*SliceHeader{
		axialHeader(0, 1, "a"),
		axialHeader(10, 2, "b"),
		axialHeader(20, 3, "c"),
	}
	rois := []rtstruct.ROI{
		{
			Name: "Cord",
			Contours: []rtstruct.ContourPolygon{
				{Points: squareContour(10)},
			},
		},
	}

	result, err := BuildMask(headers, rois)
	if err != nil {
		t.Fatalf("BuildMask returned error: %v", err)
	}
	if len(result.ContributingROIs) != 1 || result.ContributingROIs[0] != "Cord" {
		t.Fatalf("expected Cord to contribute, got %v", result.ContributingROIs)
	}
	if result.Masks[0] != nil || result.Masks[2] != nil {
		t.Fatalf("expected only the middle slice to have a mask")
	}
	mask := result.Masks[1]
	if mask == nil {
		t.Fatal("expected a mask on the matching slice")
	}
	if !mask.Bits[4*10+4] {
		t.Error("expected point (4,4) inside the square to be set")
	}
	if mask.Bits[0] {
		t.Error("expected corner (0,0) outside the square to be clear")
	}
}

func TestBuildMaskFailsWhenNoContourMatchesAnySlice(t *testing.T) {
	headers := []*SliceHeader{axialHeader(0, 1, "a"), axialHeader(10, 2, "b")}
	rois := []rtstruct.ROI{
		{
			Name: "Stray",
			Contours: []rtstruct.ContourPolygon{
				{Points: squareContour(500)},
			},
		},
	}

	_, err := BuildMask(headers, rois)
	if err == nil || !strings.Contains(err.Error(), "roi-empty") {
		t.Fatalf("expected roi-empty error when no contour matches, got %v", err)
	}
}

func TestSliceSpacingIsMedianOfSuccessiveDifferences(t *testing.T) {
	headers := []*SliceHeader{axialHeader(0, 1, "a"), axialHeader(3, 2, "b"), axialHeader(6, 3, "c")}
	got := SliceSpacing(headers)
	if got != 3 {
		t.Errorf("expected spacing 3, got %v", got)
	}
}

func TestRasterizePolygonEvenOddFill(t *testing.T) {
	mask := NewMask(10, 10)
	RasterizePolygon([][2]float64{{2, 2}, {6, 2}, {6, 6}, {2, 6}}, mask)

	if !mask.Bits[4*10+4] {
		t.Error("expected centre point to be filled")
	}
	if mask.Bits[0] {
		t.Error("expected far corner to be clear")
	}

	count := 0
	for _, b := range mask.Bits {
		if b {
			count++
		}
	}
	if count == 0 {
		t.Fatal("expected some pixels to be filled")
	}
	if count > 10*10 {
		t.Fatal(fmt.Sprintf("filled count %d exceeds grid size", count))
	}
}
