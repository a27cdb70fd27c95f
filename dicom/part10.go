package dicom

import (
	"fmt"
	"log/slog"
	"strings"
)

// FileMeta holds the group 0x0002 attributes written ahead of every Part 10
// dataset produced by this service.
type FileMeta struct {
	TransferSyntaxUID      string
	SOPClassUID            string
	SOPInstanceUID         string
	ImplementationClassUID string
	ImplementationVersion  string
}

const implementationClassUID = "1.2.826.0.1.3680043.9.7433.1.1"
const implementationVersionName = "NETRTEDGE_01"

// WritePart10 assembles a complete Part 10 file: 128-byte preamble, "DICM"
// prefix, Explicit VR Little Endian file meta group, then the dataset
// encoded with meta.TransferSyntaxUID.
func WritePart10(meta FileMeta, dataset *Dataset) ([]byte, error) {
	if meta.TransferSyntaxUID == "" {
		meta.TransferSyntaxUID = TransferSyntaxImplicitVRLittleEndian
	}
	if meta.ImplementationClassUID == "" {
		meta.ImplementationClassUID = implementationClassUID
	}
	if meta.ImplementationVersion == "" {
		meta.ImplementationVersion = implementationVersionName
	}

	metaSet := NewDataset()
	metaSet.AddElement(Tag{0x0002, 0x0001}, VR_OB, []byte{0x00, 0x01}) // File Meta Information Version
	metaSet.AddElement(Tag{0x0002, 0x0002}, VR_UI, meta.SOPClassUID)
	metaSet.AddElement(Tag{0x0002, 0x0003}, VR_UI, meta.SOPInstanceUID)
	metaSet.AddElement(Tag{0x0002, 0x0010}, VR_UI, meta.TransferSyntaxUID)
	metaSet.AddElement(Tag{0x0002, 0x0012}, VR_UI, meta.ImplementationClassUID)
	metaSet.AddElement(Tag{0x0002, 0x0013}, VR_SH, meta.ImplementationVersion)
	metaEncoded := metaSet.EncodeDataset()

	datasetEncoded, err := EncodeDatasetWithTransferSyntax(dataset, meta.TransferSyntaxUID)
	if err != nil {
		return nil, fmt.Errorf("dicom: encode dataset: %w", err)
	}

	out := make([]byte, 128+4, 128+4+len(metaEncoded)+len(datasetEncoded))
	copy(out[128:132], []byte("DICM"))
	out = append(out, metaEncoded...)
	out = append(out, datasetEncoded...)
	return out, nil
}

// ReadPart10 splits a Part 10 file into its file meta transfer syntax and
// dataset bytes, then parses the dataset with that transfer syntax.
func ReadPart10(data []byte) (*FileMeta, *Dataset, error) {
	if !HasPart10Header(data) {
		return nil, nil, fmt.Errorf("dicom: not a Part 10 file")
	}
	metaBytes, transferSyntax, sopClass, sopInstance, err := splitFileMeta(data)
	if err != nil {
		return nil, nil, err
	}
	_ = metaBytes

	datasetBytes, err := StripPart10Header(data)
	if err != nil {
		return nil, nil, err
	}
	dataset, err := ParseDatasetWithTransferSyntax(datasetBytes, transferSyntax)
	if err != nil {
		return nil, nil, fmt.Errorf("dicom: parse dataset: %w", err)
	}
	return &FileMeta{TransferSyntaxUID: transferSyntax, SOPClassUID: sopClass, SOPInstanceUID: sopInstance}, dataset, nil
}

func splitFileMeta(data []byte) ([]byte, string, string, string, error) {
	offset := 132
	var transferSyntax, sopClass, sopInstance string
	for offset+8 <= len(data) {
		group := uint16(data[offset]) | (uint16(data[offset+1]) << 8)
		element := uint16(data[offset+2]) | (uint16(data[offset+3]) << 8)
		if group != 0x0002 {
			break
		}
		vr := string(data[offset+4 : offset+6])
		var length uint32
		var valueOffset int
		if vr == "OB" || vr == "OW" || vr == "OF" || vr == "SQ" || vr == "UN" || vr == "UT" {
			offset += 8
			if offset+4 > len(data) {
				break
			}
			length = uint32(data[offset]) | (uint32(data[offset+1]) << 8) | (uint32(data[offset+2]) << 16) | (uint32(data[offset+3]) << 24)
			offset += 4
			valueOffset = offset
		} else {
			offset += 6
			if offset+2 > len(data) {
				break
			}
			length = uint32(data[offset]) | (uint32(data[offset+1]) << 8)
			offset += 2
			valueOffset = offset
		}
		if valueOffset+int(length) > len(data) {
			break
		}
		value := strings.TrimRight(string(data[valueOffset:valueOffset+int(length)]), "\x00 ")
		switch {
		case group == 0x0002 && element == 0x0010:
			transferSyntax = value
		case group == 0x0002 && element == 0x0002:
			sopClass = value
		case group == 0x0002 && element == 0x0003:
			sopInstance = value
		}
		offset += int(length)
	}
	if transferSyntax == "" {
		transferSyntax = TransferSyntaxImplicitVRLittleEndian
	}
	return data[132:offset], transferSyntax, sopClass, sopInstance, nil
}

// StripPart10Header removes the DICOM Part 10 preamble and File Meta Information
// to extract just the dataset.
//
// DICOM Part 10 files contain:
//   - 128 byte preamble
//   - 4 byte "DICM" prefix
//   - File Meta Information elements (group 0x0002)
//   - Dataset (the actual DICOM data)
//
// This function is useful when you need to send a DICOM dataset via DIMSE
// operations (like C-STORE), which expect only the dataset without the
// Part 10 wrapper.
//
// Parameters:
//   - data: The complete DICOM Part 10 file data
//
// Returns:
//   - Dataset bytes (without preamble and file meta information)
//   - Error if the data is not a valid DICOM Part 10 file
//
// Example:
//
//	fileData, _ := os.ReadFile("image.dcm")
//	datasetOnly, err := dicom.StripPart10Header(fileData)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	// Now datasetOnly can be sent via C-STORE
func StripPart10Header(data []byte) ([]byte, error) {
	if len(data) < 132 {
		return nil, fmt.Errorf("data too short to be DICOM Part 10 (need at least 132 bytes, got %d)", len(data))
	}

	// Check for DICM prefix at offset 128
	if string(data[128:132]) != "DICM" {
		return nil, fmt.Errorf("not a valid DICOM Part 10 file (missing DICM prefix at offset 128)")
	}

	// Skip preamble (128) + DICM (4) = start at offset 132
	offset := 132

	var transferSyntaxUID string

	// Skip all group 0x0002 elements (File Meta Information)
	for offset+8 <= len(data) {
		group := uint16(data[offset]) | (uint16(data[offset+1]) << 8)
		element := uint16(data[offset+2]) | (uint16(data[offset+3]) << 8)

		// If we've passed group 0x0002, we're at the dataset
		if group != 0x0002 {
			break
		}

		// Read VR (2 bytes)
		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int

		// Some VRs use different length encoding
		if vr == "OB" || vr == "OW" || vr == "OF" || vr == "SQ" || vr == "UN" || vr == "UT" {
			// Explicit VR with 32-bit length
			offset += 8 // Skip tag (4) + VR (2) + reserved (2)
			if offset+4 > len(data) {
				break
			}
			length = uint32(data[offset]) | (uint32(data[offset+1]) << 8) |
				(uint32(data[offset+2]) << 16) | (uint32(data[offset+3]) << 24)
			offset += 4
			valueOffset = offset
		} else {
			// Explicit VR with 16-bit length
			offset += 6 // Skip tag (4) + VR (2)
			if offset+2 > len(data) {
				break
			}
			length = uint32(data[offset]) | (uint32(data[offset+1]) << 8)
			offset += 2
			valueOffset = offset
		}

		// Check if this is Transfer Syntax UID (0002,0010)
		if group == 0x0002 && element == 0x0010 {
			if valueOffset+int(length) <= len(data) {
				transferSyntaxUID = string(data[valueOffset : valueOffset+int(length)])
				// Remove any padding
				transferSyntaxUID = strings.TrimRight(transferSyntaxUID, "\x00 ")
			}
		}

		// Skip value
		offset += int(length)
		if offset > len(data) {
			break
		}
	}

	if transferSyntaxUID != "" {
		slog.Debug("Found Transfer Syntax UID in File Meta Information",
			"transfer_syntax", transferSyntaxUID,
			"dataset_start_offset", offset)
	}

	if offset >= len(data) {
		return nil, fmt.Errorf("failed to find dataset after File Meta Information")
	}

	return data[offset:], nil
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
//
// Returns true if the data contains the 128-byte preamble followed by "DICM".
func HasPart10Header(data []byte) bool {
	if len(data) < 132 {
		return false
	}
	return string(data[128:132]) == "DICM"
}
