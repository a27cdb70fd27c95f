// Package contour turns an RT Structure Set's contour polygons into binary
// mask planes aligned with a reference image series: ordering slices by
// geometry, filtering ROIs against the ignore list, matching each contour
// to the slice it belongs to, and rasterising it with an even-odd fill.
package contour

import (
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dicomnet/rtstruct"
	"gonum.org/v1/gonum/spatial/r3"
)

// Result is the outcome of building masks for one structure set against one
// reference series.
type Result struct {
	// Masks has one entry per header in the ordered series, nil where no
	// ROI contributed any contour to that slice.
	Masks []*Mask
	// ContributingROIs lists the ROI names that supplied at least one
	// contour to the result, after ignore-list filtering.
	ContributingROIs []string
	// Warnings collects non-fatal issues: contours with a malformed point
	// list and contours that match no slice.
	Warnings []string
}

// FilterROIs removes ROIs whose name matches (case-insensitively, as a
// substring) any entry in ignoreList. It returns the kept ROIs and the
// names of the ones dropped.
func FilterROIs(rois []rtstruct.ROI, ignoreList []string) (kept []rtstruct.ROI, dropped []string) {
	lowerIgnore := make([]string, len(ignoreList))
	for i, s := range ignoreList {
		lowerIgnore[i] = strings.ToLower(s)
	}

	for _, roi := range rois {
		name := strings.ToLower(roi.Name)
		ignored := false
		for _, frag := range lowerIgnore {
			if frag != "" && strings.Contains(name, frag) {
				ignored = true
				break
			}
		}
		if ignored {
			dropped = append(dropped, roi.Name)
			continue
		}
		kept = append(kept, roi)
	}
	return kept, dropped
}

// FilterByFrameOfReference removes ROIs whose FrameOfReferenceUID does not
// match seriesFOR, the reference image series's own frame of reference. A
// mismatched ROI's coordinates cannot be interpreted against the series
// geometry at all, so it is rejected rather than merely warned about.
func FilterByFrameOfReference(rois []rtstruct.ROI, seriesFOR string) (kept []rtstruct.ROI, rejected []string) {
	for _, roi := range rois {
		if roi.FrameOfReferenceUID != "" && roi.FrameOfReferenceUID != seriesFOR {
			rejected = append(rejected, roi.Name)
			continue
		}
		kept = append(kept, roi)
	}
	return kept, rejected
}

// toleranceFactor scales the estimated slice spacing into the half-spacing
// window a contour's z-coordinate must fall within to match a slice.
const toleranceFactor = 0.5

// BuildMask matches every contour of every ROI in rois against the ordered
// series headers and rasterises it into the corresponding slice's mask,
// merging all ROIs and all contours with a logical OR. It fails with the
// roi-empty condition when rois is empty after filtering or when no contour
// of any ROI matches a slice, and it fails when headers is empty; otherwise
// a contour that cannot be matched to any slice is recorded as a warning
// and skipped.
func BuildMask(headers []*SliceHeader, rois []rtstruct.ROI) (*Result, error) {
	if len(rois) == 0 {
		return nil, fmt.Errorf("contour: roi-empty: no ROIs remain after filtering")
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("contour: no reference series headers supplied")
	}

	normal := headers[0].SliceNormal()
	spacing := SliceSpacing(headers)
	tolerance := spacing * toleranceFactor
	if tolerance <= 0 {
		tolerance = 1.0
	}

	sliceZ := make([]float64, len(headers))
	for i, h := range headers {
		sliceZ[i] = ProjectOntoNormal(h.ImagePositionPatient, normal)
	}

	result := &Result{Masks: make([]*Mask, len(headers))}
	contributed := make(map[string]bool)

	for _, roi := range rois {
		roiContributed := false
		for _, contour := range roi.Contours {
			if len(contour.Points)%3 != 0 || len(contour.Points) < 9 {
				result.Warnings = append(result.Warnings, fmt.Sprintf("roi %q: contour has %d coordinate values, skipping", roi.Name, len(contour.Points)))
				continue
			}

			contourZ := ProjectOntoNormal(pointAt(contour.Points, 0), normal)
			sliceIndex, ok := nearestSlice(sliceZ, contourZ, tolerance)
			if !ok {
				result.Warnings = append(result.Warnings, fmt.Sprintf("roi %q: contour at z=%.3f matches no slice within tolerance %.3f", roi.Name, contourZ, tolerance))
				continue
			}

			header := headers[sliceIndex]
			pixelPoints := toPixelPoints(header, contour.Points)

			if result.Masks[sliceIndex] == nil {
				result.Masks[sliceIndex] = NewMask(header.Rows, header.Columns)
			}
			RasterizePolygon(pixelPoints, result.Masks[sliceIndex])
			roiContributed = true
		}
		if roiContributed {
			contributed[roi.Name] = true
		}
	}

	for name := range contributed {
		result.ContributingROIs = append(result.ContributingROIs, name)
	}

	if len(result.ContributingROIs) == 0 {
		return nil, fmt.Errorf("contour: roi-empty: no contour could be matched to the reference series")
	}

	return result, nil
}

func pointAt(points []float64, i int) r3.Vec {
	return r3.Vec{X: points[3*i], Y: points[3*i+1], Z: points[3*i+2]}
}

func nearestSlice(sliceZ []float64, z float64, tolerance float64) (int, bool) {
	best := -1
	bestDist := tolerance
	for i, sz := range sliceZ {
		d := sz - z
		if d < 0 {
			d = -d
		}
		if d <= bestDist {
			best = i
			bestDist = d
		}
	}
	return best, best >= 0
}

func toPixelPoints(header *SliceHeader, points []float64) [][2]float64 {
	n := len(points) / 3
	pixels := make([][2]float64, n)
	for i := 0; i < n; i++ {
		col, row := header.PatientToPixel(pointAt(points, i))
		pixels[i] = [2]float64{col, row}
	}
	return pixels
}
