// Package rtstruct parses a DICOM RT Structure Set dataset into the ROI
// model the contour engine operates on: names, frame-of-reference, and
// contour polygons in patient coordinates. It knows nothing about pixel
// grids or rasterisation — that is the contour package's job.
package rtstruct

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/caio-sobreiro/dicomnet/dicom"
)

// ContourPolygon is one closed (or open) contour within an ROI, still in
// patient coordinates (millimetres), exactly as the structure set encoded
// it.
type ContourPolygon struct {
	// Points holds (x, y, z) triples, len(Points) == 3*NumberOfPoints.
	Points []float64
	// ReferencedSOPInstanceUID names the image instance this contour was
	// drawn against, when the structure set recorded one.
	ReferencedSOPInstanceUID string
}

// ROI is a named region of interest: a set of contour polygons sharing a
// frame of reference.
type ROI struct {
	Name                string
	Number              int
	FrameOfReferenceUID string
	Contours            []ContourPolygon
}

// StructureSet is the parsed result of one RT Structure Set instance.
type StructureSet struct {
	ROIs []ROI
}

// Parse extracts every ROI and its contours from an RT Structure Set
// dataset (PS3.3 C.8.8.5/C.8.8.6). ROIs whose contour sequence could not
// be matched to a structure-set ROI definition are skipped and reported
// via the returned warnings slice rather than failing the whole parse —
// a single malformed ROI must not take the rest of the structure set down
// with it.
func Parse(dataset *dicom.Dataset) (*StructureSet, []string, error) {
	roiDefs := dataset.GetSequence(dicom.TagStructureSetROISequence)
	if len(roiDefs) == 0 {
		return nil, nil, fmt.Errorf("rtstruct: no StructureSetROISequence present")
	}

	type roiDef struct {
		name     string
		forUID   string
	}
	defsByNumber := make(map[int]roiDef)
	for _, item := range roiDefs {
		number, ok := item.GetInt(dicom.TagROINumber)
		if !ok {
			continue
		}
		defsByNumber[number] = roiDef{
			name:   item.GetString(dicom.TagROIName),
			forUID: item.GetString(dicom.TagReferencedFrameOfReference),
		}
	}

	contourSeq := dataset.GetSequence(dicom.TagROIContourSequence)

	var warnings []string
	var rois []ROI

	for _, item := range contourSeq {
		number, ok := item.GetInt(dicom.TagReferencedROINumber)
		if !ok {
			warnings = append(warnings, "roi-contour-sequence item missing ReferencedROINumber")
			continue
		}
		def, ok := defsByNumber[number]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("roi-contour-sequence references unknown ROI number %d", number))
			continue
		}

		roi := ROI{Name: def.name, Number: number, FrameOfReferenceUID: def.forUID}

		for _, contourItem := range item.GetSequence(dicom.TagContourSequence) {
			points, err := parseContourData(contourItem.GetString(dicom.TagContourData))
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("roi %q: %v", def.name, err))
				continue
			}
			polygon := ContourPolygon{Points: points}

			images := contourItem.GetSequence(dicom.TagContourImageSequence)
			if len(images) > 0 {
				polygon.ReferencedSOPInstanceUID = images[0].GetString(dicom.TagReferencedSOPInstanceUID)
			}

			roi.Contours = append(roi.Contours, polygon)
		}

		rois = append(rois, roi)
	}

	return &StructureSet{ROIs: rois}, warnings, nil
}

func parseContourData(raw string) ([]float64, error) {
	if raw == "" {
		return nil, fmt.Errorf("empty ContourData")
	}
	parts := strings.Split(raw, "\\")
	if len(parts)%3 != 0 {
		return nil, fmt.Errorf("ContourData length %d is not a multiple of 3", len(parts))
	}
	values := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("ContourData value %q: %w", p, err)
		}
		values[i] = f
	}
	return values, nil
}
