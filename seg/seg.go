// Package seg exports one DICOM Segmentation Storage instance per
// contributing ROI, gated by the enable_segmentation_export feature flag.
// It is a deliberately simplified rendering of the Segmentation IOD: a
// single binary segment per instance, frames ordered to match the
// reference series, and no per-frame functional groups beyond what this
// pipeline's consumers (research review, not diagnostic) need.
package seg

import (
	"fmt"

	"github.com/caio-sobreiro/dicomnet/contour"
	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/rtstruct"
	"github.com/caio-sobreiro/dicomnet/series"
	"github.com/caio-sobreiro/dicomnet/spool"
	"github.com/caio-sobreiro/dicomnet/types"
)

// Export writes one multi-frame Segmentation instance per ROI in rois
// into the study's Segmentation slot. ROIs whose mask cannot be built
// (e.g. every contour falls outside the reference series) are skipped
// with a warning rather than failing the whole export.
func Export(sp *spool.Spool, key spool.StudyKey, headers []*contour.SliceHeader, rois []rtstruct.ROI) ([]string, error) {
	var warnings []string

	for _, roi := range rois {
		result, err := contour.BuildMask(headers, []rtstruct.ROI{roi})
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("seg: skipping ROI %q: %v", roi.Name, err))
			continue
		}

		if err := exportOne(sp, key, headers, roi.Name, result); err != nil {
			return warnings, err
		}
	}

	return warnings, nil
}

func exportOne(sp *spool.Spool, key spool.StudyKey, headers []*contour.SliceHeader, roiName string, result *contour.Result) error {
	if len(headers) == 0 {
		return fmt.Errorf("seg: no reference headers for ROI %q", roiName)
	}

	rows, columns := headers[0].Rows, headers[0].Columns
	frameData := packFrames(result.Masks, rows, columns)

	dataset := dicom.NewDataset()
	dataset.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, types.SegmentationStorage)
	seriesUID := series.NewUID()
	sopUID := series.NewUID()
	dataset.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, seriesUID)
	dataset.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, sopUID)
	dataset.AddElement(dicom.TagFrameOfReferenceUID, dicom.VR_UI, headers[0].FrameOfReferenceUID)
	dataset.AddElement(dicom.TagSeriesDescription, dicom.VR_LO, fmt.Sprintf("RESEARCH USE ONLY : CONTOUR %s", roiName))
	dataset.AddElement(dicom.TagSeriesNumber, dicom.VR_IS, "99")
	dataset.AddElement(dicom.TagRows, dicom.VR_US, uint16(rows))
	dataset.AddElement(dicom.TagColumns, dicom.VR_US, uint16(columns))
	dataset.AddElement(dicom.Tag{Group: 0x0028, Element: 0x0008}, dicom.VR_IS, fmt.Sprintf("%d", len(headers))) // NumberOfFrames
	dataset.AddElement(dicom.TagBitsAllocated, dicom.VR_US, uint16(1))
	dataset.AddElement(dicom.Tag{Group: 0x0028, Element: 0x0103}, dicom.VR_US, uint16(0))                        // PixelRepresentation
	dataset.AddElement(dicom.Tag{Group: 0x0062, Element: 0x0001}, dicom.VR_CS, "BINARY")                         // SegmentationType
	dataset.AddElement(dicom.TagPixelData, dicom.VR_OB, frameData)

	part10, err := dicom.WritePart10(dicom.FileMeta{
		TransferSyntaxUID: types.ExplicitVRLittleEndian,
		SOPClassUID:       types.SegmentationStorage,
		SOPInstanceUID:    sopUID,
	}, dataset)
	if err != nil {
		return fmt.Errorf("seg: encode ROI %q: %w", roiName, err)
	}

	fileName := sanitizeFileName(roiName) + ".dcm"
	if err := spool.WriteAtomic(sp.PathFor(key, spool.SlotSegmentation), fileName, part10); err != nil {
		return fmt.Errorf("seg: write ROI %q: %w", roiName, err)
	}
	return nil
}

// packFrames concatenates every slice's mask (empty slices are treated as
// all-clear) into a single bit-packed, even-byte-padded-per-frame buffer —
// the same convention dicom.AddOverlayPlane uses for a single frame.
func packFrames(masks []*contour.Mask, rows, columns int) []byte {
	var out []byte
	empty := make([]bool, rows*columns)
	for _, mask := range masks {
		bits := empty
		if mask != nil {
			bits = mask.Bits
		}
		out = append(out, dicom.PackFrameBits(bits)...)
	}
	return out
}

func sanitizeFileName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "roi"
	}
	return string(out)
}
