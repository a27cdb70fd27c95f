// Package burnin stamps a fixed disclaimer string onto the pixel data of
// the derived series, the way the processing pipeline's burn-in stage
// always has — but bottom-centre rather than bottom-right, and operating
// directly on the image's native bit depth instead of round-tripping
// through an 8-bit rescale.
package burnin

import (
	"fmt"
	"image"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const margin = 10

// Apply burns text into a copy of pixelData and returns the copy;
// pixelData itself is left unchanged. pixelData must hold rows*columns samples at the given
// bit depth (8 or 16, single sample per pixel — the only depths the
// reference series this pipeline handles ever uses). The burned pixels
// are set to the maximum sample value already present in the image, so
// the text reads as pure white regardless of the image's native windowing.
func Apply(rows, columns int, bitsAllocated uint16, pixelData []byte, text string) ([]byte, error) {
	bytesPerSample, err := sampleWidth(bitsAllocated)
	if err != nil {
		return nil, err
	}
	expected := rows * columns * bytesPerSample
	if len(pixelData) < expected {
		return nil, fmt.Errorf("burnin: pixel data is %d bytes, expected at least %d for a %dx%d %d-bit image", len(pixelData), expected, rows, columns, bitsAllocated)
	}

	out := make([]byte, len(pixelData))
	copy(out, pixelData)

	maxValue := maxSample(out, bytesPerSample)
	mask, originX, originY := renderMask(rows, columns, text)

	bounds := mask.Bounds()
	for my := bounds.Min.Y; my < bounds.Max.Y; my++ {
		for mx := bounds.Min.X; mx < bounds.Max.X; mx++ {
			if mask.AlphaAt(mx, my).A == 0 {
				continue
			}
			col := mx - bounds.Min.X + originX
			row := my - bounds.Min.Y + originY
			if col < 0 || col >= columns || row < 0 || row >= rows {
				continue
			}
			setSample(out, (row*columns+col)*bytesPerSample, bytesPerSample, maxValue)
		}
	}

	return out, nil
}

func sampleWidth(bitsAllocated uint16) (int, error) {
	switch bitsAllocated {
	case 8:
		return 1, nil
	case 16:
		return 2, nil
	default:
		return 0, fmt.Errorf("burnin: unsupported BitsAllocated %d", bitsAllocated)
	}
}

func maxSample(data []byte, bytesPerSample int) uint32 {
	var max uint32
	for i := 0; i+bytesPerSample <= len(data); i += bytesPerSample {
		v := readSample(data, i, bytesPerSample)
		if v > max {
			max = v
		}
	}
	return max
}

func readSample(data []byte, offset, bytesPerSample int) uint32 {
	if bytesPerSample == 1 {
		return uint32(data[offset])
	}
	return uint32(data[offset]) | uint32(data[offset+1])<<8
}

func setSample(data []byte, offset, bytesPerSample int, value uint32) {
	data[offset] = byte(value)
	if bytesPerSample == 2 {
		data[offset+1] = byte(value >> 8)
	}
}

// renderMask draws text with the fixed-width basic face and returns the
// alpha mask along with the pixel-space (col, row) of its top-left corner,
// positioned bottom-centre with a fixed margin from the image edge.
func renderMask(rows, columns int, text string) (*image.Alpha, int, int) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	mask := image.NewAlpha(image.Rect(0, 0, width, height))
	drawer := &font.Drawer{
		Dst:  mask,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(0, face.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(text)

	originX := (columns - width) / 2
	originY := rows - height - margin
	return mask, originX, originY
}
