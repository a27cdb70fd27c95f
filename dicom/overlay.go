package dicom

import "fmt"

// MaxOverlayGroups is the number of overlay planes a single instance can
// carry: group numbers 0x6000 through 0x601E in steps of two (PS3.3 C.9.2).
const MaxOverlayGroups = 16

// AddOverlayPlane writes a binary overlay plane into dataset at the given
// group index (0-15, mapping to group 0x6000 + 2*index). mask is addressed
// row-major, mask[row][col], true meaning the pixel is covered.
func AddOverlayPlane(dataset *Dataset, groupIndex int, rows, columns int, mask []bool, description string) error {
	if groupIndex < 0 || groupIndex >= MaxOverlayGroups {
		return fmt.Errorf("dicom: overlay group index %d out of range [0,%d)", groupIndex, MaxOverlayGroups)
	}
	if len(mask) != rows*columns {
		return fmt.Errorf("dicom: overlay mask length %d does not match %dx%d", len(mask), rows, columns)
	}

	group := uint16(0x6000 + 2*groupIndex)

	dataset.AddElement(Tag{group, 0x0010}, VR_US, uint16(rows))
	dataset.AddElement(Tag{group, 0x0011}, VR_US, uint16(columns))
	dataset.AddElement(Tag{group, 0x0022}, VR_LO, description)
	dataset.AddElement(Tag{group, 0x0040}, VR_CS, "G") // Overlay Type: Graphic
	dataset.AddElement(Tag{group, 0x0050}, VR_SS, []int16{1, 1})
	dataset.AddElement(Tag{group, 0x0100}, VR_US, uint16(1)) // Overlay Bits Allocated
	dataset.AddElement(Tag{group, 0x0102}, VR_US, uint16(0)) // Overlay Bit Position
	dataset.AddElement(Tag{group, 0x3000}, VR_OW, packBits(mask))

	return nil
}

// packBits packs a slice of booleans into DICOM's 1-bit overlay data
// encoding: bits are packed LSB-first into bytes, padded to an even byte
// count as the dataset encoder requires.
func packBits(bits []bool) []byte {
	byteLen := (len(bits) + 7) / 8
	if byteLen%2 == 1 {
		byteLen++
	}
	packed := make([]byte, byteLen)
	for i, b := range bits {
		if !b {
			continue
		}
		packed[i/8] |= 1 << uint(i%8)
	}
	return packed
}

// PackFrameBits exposes packBits for callers outside the overlay path that
// need the same bit-packed, even-byte-padded encoding per frame — the
// Segmentation exporter packs one frame at a time and concatenates them.
func PackFrameBits(bits []bool) []byte {
	return packBits(bits)
}

// UnpackBits is the inverse of packBits, returning exactly n boolean values.
func UnpackBits(data []byte, n int) []bool {
	bits := make([]bool, n)
	for i := 0; i < n; i++ {
		byteIdx := i / 8
		if byteIdx >= len(data) {
			break
		}
		bits[i] = data[byteIdx]&(1<<uint(i%8)) != 0
	}
	return bits
}
