package burnin

import "testing"

func TestApplyBurnsTextIntoBottomCentre(t *testing.T) {
	rows, columns := 64, 128
	pixelData := make([]byte, rows*columns*2)
	for i := range pixelData {
		pixelData[i] = 0
	}
	// Give the image a non-zero max so the burned pixels are distinguishable.
	setSample(pixelData, 0, 2, 1000)

	out, err := Apply(rows, columns, 16, pixelData, "RESEARCH IMAGE")
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if len(out) != len(pixelData) {
		t.Fatalf("expected output length %d, got %d", len(pixelData), len(out))
	}

	maxVal := maxSample(out, 2)
	if maxVal != 1000 {
		t.Fatalf("expected max sample to remain 1000, got %d", maxVal)
	}

	// Some pixel in the bottom half should now carry the max value.
	bottomHalfStart := (rows / 2) * columns * 2
	found := false
	for i := bottomHalfStart; i+1 < len(out); i += 2 {
		if readSample(out, i, 2) == maxVal {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected at least one burned-in pixel in the bottom half of the image")
	}
}

func TestApplyRejectsUnsupportedBitDepth(t *testing.T) {
	if _, err := Apply(4, 4, 12, make([]byte, 32), "x"); err == nil {
		t.Fatal("expected an error for an unsupported BitsAllocated")
	}
}

func TestApplyRejectsUndersizedPixelData(t *testing.T) {
	if _, err := Apply(10, 10, 16, make([]byte, 4), "x"); err == nil {
		t.Fatal("expected an error for undersized pixel data")
	}
}
