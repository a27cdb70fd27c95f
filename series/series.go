// Package series synthesises the derived output series: the reference CT
// (or MR) series re-emitted with an overlay plane burned in for each
// contributing slice, the configured disclaimer text stamped onto the
// pixel data, and — optionally — an RGB debug secondary-capture series
// with the contour mask painted on as a colour overlay. New series and
// instance UIDs are generated fresh for every run; the study and
// frame-of-reference identifiers are carried over from the source.
package series

import (
	"fmt"
	"math/big"
	"os"

	"github.com/caio-sobreiro/dicomnet/burnin"
	"github.com/caio-sobreiro/dicomnet/contour"
	"github.com/caio-sobreiro/dicomnet/dicom"
	"github.com/caio-sobreiro/dicomnet/spool"
	"github.com/caio-sobreiro/dicomnet/types"
	"github.com/google/uuid"
)

// Options configures one synthesis run.
type Options struct {
	SeriesDescription string
	SeriesNumber      int
	BurnInText        string
	// EmitDebugCapture additionally writes a colour-overlay secondary
	// capture series into the DebugDicom slot.
	EmitDebugCapture bool
}

// NewUID generates a DICOM UID under the 2.25. root recommended by PS3.5
// Annex B for UUID-derived UIDs: the root followed by the UUID's 128 bits
// read as a decimal integer.
func NewUID() string {
	id := uuid.New()
	n := new(big.Int).SetBytes(id[:])
	return "2.25." + n.String()
}

// Synthesize builds one derived instance per header that has a non-nil
// mask in result, writing each into the study's Addition slot, and
// (when opts.EmitDebugCapture) a colour-overlay secondary capture series
// into DebugDicom. It returns the number of instances written.
func Synthesize(sp *spool.Spool, key spool.StudyKey, headers []*contour.SliceHeader, result *contour.Result, opts Options) (int, error) {
	if len(headers) != len(result.Masks) {
		return 0, fmt.Errorf("series: %d headers but %d masks", len(headers), len(result.Masks))
	}

	newSeriesUID := NewUID()
	written := 0

	for i, header := range headers {
		mask := result.Masks[i]
		if mask == nil {
			continue
		}

		dataset, pixelData, bitsAllocated, err := loadInstance(header)
		if err != nil {
			return written, err
		}

		newSOPUID := NewUID()
		dataset.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, newSeriesUID)
		dataset.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, newSOPUID)
		dataset.AddElement(dicom.TagSeriesDescription, dicom.VR_LO, opts.SeriesDescription)
		dataset.AddElement(dicom.TagSeriesNumber, dicom.VR_IS, fmt.Sprintf("%d", opts.SeriesNumber))

		if opts.BurnInText != "" {
			burned, err := burnin.Apply(header.Rows, header.Columns, bitsAllocated, pixelData, opts.BurnInText)
			if err != nil {
				return written, fmt.Errorf("series: burn-in %s: %w", header.SourcePath, err)
			}
			pixelData = burned
		}
		dataset.AddElement(dicom.TagPixelData, dicom.VR_OW, pixelData)

		if err := dicom.AddOverlayPlane(dataset, 0, header.Rows, header.Columns, mask.Bits, "CONTOUR"); err != nil {
			return written, fmt.Errorf("series: overlay %s: %w", header.SourcePath, err)
		}

		part10, err := dicom.WritePart10(dicom.FileMeta{
			TransferSyntaxUID: header.TransferSyntaxUID,
			SOPClassUID:       header.SOPClassUID,
			SOPInstanceUID:    newSOPUID,
		}, dataset)
		if err != nil {
			return written, fmt.Errorf("series: encode %s: %w", header.SourcePath, err)
		}

		fileName := newSOPUID + ".dcm"
		if err := spool.WriteAtomic(sp.PathFor(key, spool.SlotAddition), fileName, part10); err != nil {
			return written, fmt.Errorf("series: write %s: %w", fileName, err)
		}
		written++
	}

	if opts.EmitDebugCapture {
		if err := emitDebugCapture(sp, key, headers, result); err != nil {
			return written, err
		}
	}

	return written, nil
}

// loadInstance re-reads a source instance's full dataset (including pixel
// data) from disk; the geometry-only load used for ordering deliberately
// skips pixel data, so the synthesiser re-reads it here.
func loadInstance(header *contour.SliceHeader) (*dicom.Dataset, []byte, uint16, error) {
	raw, err := readFile(header.SourcePath)
	if err != nil {
		return nil, nil, 0, err
	}
	_, dataset, err := dicom.ReadPart10(raw)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("series: parse %s: %w", header.SourcePath, err)
	}
	pixelData := dataset.GetBytes(dicom.TagPixelData)
	bitsAllocated, _ := dataset.GetUint16(dicom.TagBitsAllocated)
	return dataset, pixelData, bitsAllocated, nil
}

// overlayTint is the RGB colour painted over masked pixels in the debug
// capture, blended with the underlying windowed grayscale rather than
// replacing it outright so the anatomy stays visible underneath the mask.
var overlayTint = [3]byte{255, 64, 64}

const overlayAlpha = 0.45

// emitDebugCapture writes one RGB Secondary Capture instance per header
// into DebugDicom: the source pixel data windowed to 8 bits per sample,
// with the matching mask (if any) painted on as a translucent colour tint
// — a visualisation aid, not a diagnostic copy of the source series, so
// unlike the Addition series it carries no overlay plane or burned-in
// disclaimer of its own.
func emitDebugCapture(sp *spool.Spool, key spool.StudyKey, headers []*contour.SliceHeader, result *contour.Result) error {
	debugSeriesUID := NewUID()
	for i, header := range headers {
		_, pixelData, bitsAllocated, err := loadInstance(header)
		if err != nil {
			return err
		}

		var mask *contour.Mask
		if result != nil && i < len(result.Masks) {
			mask = result.Masks[i]
		}

		rgb, err := renderColorCapture(header.Rows, header.Columns, bitsAllocated, pixelData, mask)
		if err != nil {
			return fmt.Errorf("series: render debug capture for %s: %w", header.SourcePath, err)
		}

		newSOPUID := NewUID()
		dataset := dicom.NewDataset()
		dataset.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, debugSeriesUID)
		dataset.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, newSOPUID)
		dataset.AddElement(dicom.TagSOPClassUID, dicom.VR_UI, types.SecondaryCaptureImageStorage)
		dataset.AddElement(dicom.TagSeriesDescription, dicom.VR_LO, "DEBUG CAPTURE - CONTOUR OVERLAY")
		dataset.AddElement(dicom.TagInstanceNumber, dicom.VR_IS, fmt.Sprintf("%d", i+1))
		dataset.AddElement(dicom.TagRows, dicom.VR_US, uint16(header.Rows))
		dataset.AddElement(dicom.TagColumns, dicom.VR_US, uint16(header.Columns))
		dataset.AddElement(dicom.TagSamplesPerPixel, dicom.VR_US, uint16(3))
		dataset.AddElement(dicom.TagPhotometricInterpretation, dicom.VR_CS, "RGB")
		dataset.AddElement(dicom.TagPlanarConfiguration, dicom.VR_US, uint16(0))
		dataset.AddElement(dicom.TagBitsAllocated, dicom.VR_US, uint16(8))
		dataset.AddElement(dicom.TagBitsStored, dicom.VR_US, uint16(8))
		dataset.AddElement(dicom.TagHighBit, dicom.VR_US, uint16(7))
		dataset.AddElement(dicom.TagPixelRepresentation, dicom.VR_US, uint16(0))
		dataset.AddElement(dicom.TagPixelData, dicom.VR_OW, rgb)

		part10, err := dicom.WritePart10(dicom.FileMeta{
			TransferSyntaxUID: dicom.TransferSyntaxExplicitVRLittleEndian,
			SOPClassUID:       types.SecondaryCaptureImageStorage,
			SOPInstanceUID:    newSOPUID,
		}, dataset)
		if err != nil {
			return fmt.Errorf("series: encode debug capture for %s: %w", header.SourcePath, err)
		}

		fileName := newSOPUID + ".dcm"
		if err := spool.WriteAtomic(sp.PathFor(key, spool.SlotDebugDicom), fileName, part10); err != nil {
			return fmt.Errorf("series: write debug capture %s: %w", fileName, err)
		}
	}
	return nil
}

// renderColorCapture windows pixelData to 8-bit grayscale by its own
// min/max sample range, then paints overlayTint over masked pixels
// blended at overlayAlpha, producing samples*3 RGB bytes in row-major,
// interleaved (planar configuration 0) order.
func renderColorCapture(rows, columns int, bitsAllocated uint16, pixelData []byte, mask *contour.Mask) ([]byte, error) {
	bytesPerSample := 1
	if bitsAllocated == 16 {
		bytesPerSample = 2
	} else if bitsAllocated != 8 {
		return nil, fmt.Errorf("series: unsupported BitsAllocated %d for debug capture", bitsAllocated)
	}
	expected := rows * columns * bytesPerSample
	if len(pixelData) < expected {
		return nil, fmt.Errorf("series: pixel data is %d bytes, expected at least %d for a %dx%d %d-bit image", len(pixelData), expected, rows, columns, bitsAllocated)
	}

	samples := make([]uint32, rows*columns)
	var min, max uint32
	min = ^uint32(0)
	for i := range samples {
		offset := i * bytesPerSample
		var v uint32
		if bytesPerSample == 1 {
			v = uint32(pixelData[offset])
		} else {
			v = uint32(pixelData[offset]) | uint32(pixelData[offset+1])<<8
		}
		samples[i] = v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	spread := max - min
	if spread == 0 {
		spread = 1
	}

	rgb := make([]byte, rows*columns*3)
	for i, v := range samples {
		gray := byte(((v - min) * 255) / spread)
		r, g, b := gray, gray, gray
		if mask != nil && i < len(mask.Bits) && mask.Bits[i] {
			r = blend(gray, overlayTint[0])
			g = blend(gray, overlayTint[1])
			b = blend(gray, overlayTint[2])
		}
		rgb[i*3] = r
		rgb[i*3+1] = g
		rgb[i*3+2] = b
	}
	return rgb, nil
}

func blend(base, tint byte) byte {
	return byte(float64(base)*(1-overlayAlpha) + float64(tint)*overlayAlpha)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("series: read %s: %w", path, err)
	}
	return data, nil
}
