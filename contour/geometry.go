package contour

import (
	"fmt"

	"github.com/caio-sobreiro/dicomnet/dicom"
	"gonum.org/v1/gonum/spatial/r3"
)

// SliceHeader carries just the per-instance attributes the engine needs:
// the typed accessor layer over the opaque DICOM attribute map the codec
// exposes. Every other attribute on the source instance passes through
// unmodified and is never represented here.
type SliceHeader struct {
	SourcePath               string
	SOPInstanceUID           string
	SOPClassUID              string
	InstanceNumber           int
	ImagePositionPatient     r3.Vec
	ImageOrientationPatient  [6]float64
	PixelSpacingRow          float64
	PixelSpacingColumn       float64
	Rows                     int
	Columns                  int
	FrameOfReferenceUID      string
	TransferSyntaxUID        string
	PixelData                []byte
	BitsAllocated            uint16
}

// HeaderFromDataset extracts a SliceHeader from a parsed image dataset.
// keepPixelData controls whether the (potentially large) PixelData bytes
// are retained; the ordering pass only needs headers, so callers loading
// just for sorting should pass false.
func HeaderFromDataset(path string, meta *dicom.FileMeta, dataset *dicom.Dataset, keepPixelData bool) (*SliceHeader, error) {
	position, err := dataset.GetFloat64s(dicom.TagImagePositionPatient)
	if err != nil || len(position) != 3 {
		return nil, fmt.Errorf("contour: %s: invalid ImagePositionPatient: %v", path, err)
	}
	orientation, err := dataset.GetFloat64s(dicom.TagImageOrientationPatient)
	if err != nil || len(orientation) != 6 {
		return nil, fmt.Errorf("contour: %s: invalid ImageOrientationPatient: %v", path, err)
	}
	spacing, err := dataset.GetFloat64s(dicom.TagPixelSpacing)
	if err != nil || len(spacing) != 2 {
		return nil, fmt.Errorf("contour: %s: invalid PixelSpacing: %v", path, err)
	}
	rows, _ := dataset.GetUint16(dicom.TagRows)
	columns, _ := dataset.GetUint16(dicom.TagColumns)
	bitsAllocated, _ := dataset.GetUint16(dicom.TagBitsAllocated)

	instanceNumber, _ := dataset.GetInt(dicom.TagInstanceNumber)

	header := &SliceHeader{
		SourcePath:              path,
		SOPInstanceUID:          dataset.GetString(dicom.TagSOPInstanceUID),
		SOPClassUID:             dataset.GetString(dicom.TagSOPClassUID),
		InstanceNumber:          instanceNumber,
		ImagePositionPatient:    r3.Vec{X: position[0], Y: position[1], Z: position[2]},
		ImageOrientationPatient: [6]float64{orientation[0], orientation[1], orientation[2], orientation[3], orientation[4], orientation[5]},
		PixelSpacingRow:         spacing[0],
		PixelSpacingColumn:      spacing[1],
		Rows:                    int(rows),
		Columns:                 int(columns),
		FrameOfReferenceUID:     dataset.GetString(dicom.TagFrameOfReferenceUID),
		BitsAllocated:           bitsAllocated,
	}
	if meta != nil {
		header.TransferSyntaxUID = meta.TransferSyntaxUID
	}
	if keepPixelData {
		header.PixelData = dataset.GetBytes(dicom.TagPixelData)
	}

	return header, nil
}

// RowDirection returns the direction cosines of increasing column index
// (the first triplet of ImageOrientationPatient).
func (h *SliceHeader) RowDirection() r3.Vec {
	return r3.Vec{X: h.ImageOrientationPatient[0], Y: h.ImageOrientationPatient[1], Z: h.ImageOrientationPatient[2]}
}

// ColumnDirection returns the direction cosines of increasing row index
// (the second triplet of ImageOrientationPatient).
func (h *SliceHeader) ColumnDirection() r3.Vec {
	return r3.Vec{X: h.ImageOrientationPatient[3], Y: h.ImageOrientationPatient[4], Z: h.ImageOrientationPatient[5]}
}

// SliceNormal returns the unit vector perpendicular to the image plane,
// derived from the row/column direction cosines — never from filename or
// any other positional hint.
func (h *SliceHeader) SliceNormal() r3.Vec {
	return r3.Unit(r3.Cross(h.RowDirection(), h.ColumnDirection()))
}

// ProjectOntoNormal projects a patient-space point onto the slice normal,
// giving the scalar position used to order slices and to match contour
// polygons to the slice they belong to.
func ProjectOntoNormal(point r3.Vec, normal r3.Vec) float64 {
	return r3.Dot(point, normal)
}

// PatientToPixel converts a patient-coordinate point (millimetres) into
// fractional (column, row) pixel coordinates on this slice, using the
// slice's position, orientation, and spacing. Orientation vectors are
// unit direction cosines, so the inverse of the pixel-to-patient affine
// map reduces to two dot products rather than a general matrix solve.
func (h *SliceHeader) PatientToPixel(point r3.Vec) (col, row float64) {
	d := r3.Sub(point, h.ImagePositionPatient)
	col = r3.Dot(d, h.RowDirection()) / h.PixelSpacingColumn
	row = r3.Dot(d, h.ColumnDirection()) / h.PixelSpacingRow
	return col, row
}
