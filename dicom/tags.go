package dicom

import (
	"strconv"
	"strings"
)

// Well-known tags used by the study pipeline. The codec treats every other
// tag as opaque pass-through data; these are the ones the core reads or
// writes by name (see the typed accessor layer rationale in the design
// notes: the rest of the attribute space is never interpreted).
var (
	TagSOPClassUID              = Tag{0x0008, 0x0016}
	TagSOPInstanceUID           = Tag{0x0008, 0x0018}
	TagModality                 = Tag{0x0008, 0x0060}
	TagSeriesDescription        = Tag{0x0008, 0x103E}
	TagStudyDescription         = Tag{0x0008, 0x1030}
	TagStructureSetLabel        = Tag{0x3006, 0x0002}
	TagStudyInstanceUID         = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID        = Tag{0x0020, 0x000E}
	TagSeriesNumber             = Tag{0x0020, 0x0011}
	TagInstanceNumber           = Tag{0x0020, 0x0013}
	TagImagePositionPatient     = Tag{0x0020, 0x0032}
	TagImageOrientationPatient  = Tag{0x0020, 0x0037}
	TagFrameOfReferenceUID      = Tag{0x0020, 0x0052}
	TagPixelSpacing             = Tag{0x0028, 0x0030}
	TagSliceThickness           = Tag{0x0018, 0x0050}
	TagRows                     = Tag{0x0028, 0x0010}
	TagColumns                  = Tag{0x0028, 0x0011}
	TagBitsAllocated            = Tag{0x0028, 0x0100}
	TagBitsStored                = Tag{0x0028, 0x0101}
	TagHighBit                  = Tag{0x0028, 0x0102}
	TagPixelRepresentation      = Tag{0x0028, 0x0103}
	TagSamplesPerPixel          = Tag{0x0028, 0x0002}
	TagPhotometricInterpretation = Tag{0x0028, 0x0004}
	TagPlanarConfiguration      = Tag{0x0028, 0x0006}
	TagPixelData                = Tag{0x7FE0, 0x0010}
	TagAccessionNumber          = Tag{0x0008, 0x0050}
	TagPatientID                = Tag{0x0010, 0x0020}
	TagPatientName              = Tag{0x0010, 0x0010}
	TagImageComments            = Tag{0x0020, 0x4000}

	// RT Structure Set ROI sequences (DICOM PS3.3 C.8.8.5/C.8.8.6).
	TagStructureSetROISequence    = Tag{0x3006, 0x0020}
	TagROINumber                  = Tag{0x3006, 0x0022}
	TagROIName                    = Tag{0x3006, 0x0026}
	TagReferencedFrameOfReference = Tag{0x3006, 0x0024}
	TagROIContourSequence         = Tag{0x3006, 0x0039}
	TagReferencedROINumber        = Tag{0x3006, 0x0084}
	TagContourSequence            = Tag{0x3006, 0x0040}
	TagContourGeometricType       = Tag{0x3006, 0x0042}
	TagNumberOfContourPoints      = Tag{0x3006, 0x0046}
	TagContourData                = Tag{0x3006, 0x0050}
	TagContourImageSequence       = Tag{0x3006, 0x0016}
	TagReferencedSOPInstanceUID   = Tag{0x0008, 0x1155}
)

// GetUint16 returns the element value as a uint16, ignoring multi-valued
// elements beyond the first (Rows/Columns/BitsAllocated are all single-valued).
func (d *Dataset) GetUint16(tag Tag) (uint16, bool) {
	element, ok := d.GetElement(tag)
	if !ok {
		return 0, false
	}
	switch v := element.Value.(type) {
	case uint16:
		return v, true
	case []uint16:
		if len(v) > 0 {
			return v[0], true
		}
	}
	return 0, false
}

// GetBytes returns a binary-VR element's raw value (pixel data, overlay data).
func (d *Dataset) GetBytes(tag Tag) []byte {
	element, ok := d.GetElement(tag)
	if !ok {
		return nil
	}
	raw, _ := element.Value.([]byte)
	return raw
}

// GetSequence returns the item datasets of an SQ element.
func (d *Dataset) GetSequence(tag Tag) []*Dataset {
	element, ok := d.GetElement(tag)
	if !ok {
		return nil
	}
	items, _ := element.Value.([]*Dataset)
	return items
}

// GetFloat64s parses a backslash-separated DS (decimal string) element into
// float64 values, e.g. ImagePositionPatient or PixelSpacing.
func (d *Dataset) GetFloat64s(tag Tag) ([]float64, error) {
	raw := d.GetString(tag)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, "\\")
	values := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		values[i] = f
	}
	return values, nil
}

// GetInt returns an IS (integer string) element as an int.
func (d *Dataset) GetInt(tag Tag) (int, bool) {
	raw := strings.TrimSpace(d.GetString(tag))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SetFloat64s encodes float64 values as a backslash-separated DS string.
func (d *Dataset) SetFloat64s(tag Tag, vr string, values []float64) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	d.AddElement(tag, vr, strings.Join(parts, "\\"))
}
