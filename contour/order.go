package contour

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/caio-sobreiro/dicomnet/dicom"
)

// LoadSeriesHeaders reads every regular file directly under dir (the
// study's DCM slot), skipping in-progress *.part files, and returns their
// headers, ordered by slice position. Slice
// order is derived purely from geometry — the projection of each slice's
// ImagePositionPatient onto the series' slice normal — never from filename
// or directory listing order, which is the ordering bug this engine
// deliberately does not reproduce.
func LoadSeriesHeaders(dir string) ([]*SliceHeader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("contour: read %s: %w", dir, err)
	}

	var headers []*SliceHeader
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".part") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("contour: read %s: %w", path, err)
		}
		meta, dataset, err := dicom.ReadPart10(raw)
		if err != nil {
			return nil, fmt.Errorf("contour: parse %s: %w", path, err)
		}
		header, err := HeaderFromDataset(path, meta, dataset, false)
		if err != nil {
			return nil, err
		}
		headers = append(headers, header)
	}

	if len(headers) == 0 {
		return nil, fmt.Errorf("contour: %s contains no usable image instances", dir)
	}

	OrderSlices(headers)
	return headers, nil
}

// OrderSlices sorts headers in place by their ImagePositionPatient
// projected onto the first header's slice normal, breaking ties first by
// InstanceNumber and finally by SOPInstanceUID for full determinism.
func OrderSlices(headers []*SliceHeader) {
	if len(headers) == 0 {
		return
	}
	normal := headers[0].SliceNormal()

	type scored struct {
		header *SliceHeader
		z      float64
	}
	scoredHeaders := make([]scored, len(headers))
	for i, h := range headers {
		scoredHeaders[i] = scored{header: h, z: ProjectOntoNormal(h.ImagePositionPatient, normal)}
	}

	sort.SliceStable(scoredHeaders, func(i, j int) bool {
		a, b := scoredHeaders[i], scoredHeaders[j]
		if a.z != b.z {
			return a.z < b.z
		}
		if a.header.InstanceNumber != b.header.InstanceNumber {
			return a.header.InstanceNumber < b.header.InstanceNumber
		}
		return a.header.SOPInstanceUID < b.header.SOPInstanceUID
	})

	for i, s := range scoredHeaders {
		headers[i] = s.header
	}
}

// SliceSpacing estimates the nominal spacing between consecutive ordered
// slices as the median of successive z differences, used to size the
// matching tolerance in BuildMask. Returns 0 if fewer than two slices are
// present.
func SliceSpacing(headers []*SliceHeader) float64 {
	if len(headers) < 2 {
		return 0
	}
	normal := headers[0].SliceNormal()
	diffs := make([]float64, 0, len(headers)-1)
	prev := ProjectOntoNormal(headers[0].ImagePositionPatient, normal)
	for _, h := range headers[1:] {
		z := ProjectOntoNormal(h.ImagePositionPatient, normal)
		d := z - prev
		if d < 0 {
			d = -d
		}
		if d > 0 {
			diffs = append(diffs, d)
		}
		prev = z
	}
	if len(diffs) == 0 {
		return 0
	}
	sort.Float64s(diffs)
	return diffs[len(diffs)/2]
}
