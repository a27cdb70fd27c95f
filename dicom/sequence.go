package dicom

import (
	"encoding/binary"
	"fmt"
)

var (
	itemTag                 = Tag{Group: 0xFFFE, Element: 0xE000}
	itemDelimitationTag     = Tag{Group: 0xFFFE, Element: 0xE00D}
	sequenceDelimitationTag = Tag{Group: 0xFFFE, Element: 0xE0DD}
	undefinedLength         = uint32(0xFFFFFFFF)
)

// parseSequenceItems decodes the value bytes of an SQ element into its
// constituent item datasets. Items may use either a defined or an
// undefined length depending on how the sequence itself was encoded; both the
// defined-length and undefined-length (delimiter-terminated) forms used
// by real scanners are handled.
func parseSequenceItems(data []byte, explicitVR bool) ([]*Dataset, error) {
	var items []*Dataset

	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		tag := Tag{Group: group, Element: element}
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		offset += 8

		if tag == sequenceDelimitationTag {
			break
		}
		if tag != itemTag {
			return nil, fmt.Errorf("expected sequence item tag, got %s", tag)
		}

		var itemBytes []byte
		if length == undefinedLength {
			end, itemData, err := readUndefinedLengthItem(data[offset:])
			if err != nil {
				return nil, err
			}
			itemBytes = itemData
			offset += end
		} else {
			if offset+int(length) > len(data) {
				return nil, fmt.Errorf("sequence item length %d exceeds remaining data", length)
			}
			itemBytes = data[offset : offset+int(length)]
			offset += int(length)
		}

		var itemDataset *Dataset
		var err error
		if explicitVR {
			itemDataset, err = ParseDataset(itemBytes)
		} else {
			itemDataset, err = parseImplicitVRDataset(itemBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("sequence item: %w", err)
		}
		items = append(items, itemDataset)
	}

	return items, nil
}

// readUndefinedLengthItem scans for the item delimitation tag and returns
// the offset just past it along with the item's raw content bytes.
func readUndefinedLengthItem(data []byte) (int, []byte, error) {
	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		if (Tag{Group: group, Element: element}) == itemDelimitationTag {
			content := data[:offset]
			return offset + 8, content, nil
		}
		offset++
	}
	return 0, nil, fmt.Errorf("undefined-length sequence item missing delimitation tag")
}

// encodeSequenceItems encodes item datasets back into SQ value bytes using
// defined-length items, which avoids needing delimiter tags on write.
func encodeSequenceItems(items []*Dataset, explicitVR bool) []byte {
	var result []byte
	for _, item := range items {
		var itemBytes []byte
		if explicitVR {
			itemBytes = item.EncodeDataset()
		} else {
			itemBytes = encodeImplicitVRDataset(item)
		}
		if len(itemBytes)%2 == 1 {
			itemBytes = append(itemBytes, 0x00)
		}

		header := make([]byte, 8)
		binary.LittleEndian.PutUint16(header[0:2], itemTag.Group)
		binary.LittleEndian.PutUint16(header[2:4], itemTag.Element)
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(itemBytes)))

		result = append(result, header...)
		result = append(result, itemBytes...)
	}
	return result
}

// NewSequenceElement returns a VR_SQ value built from item datasets, for
// use with Dataset.AddElement.
func NewSequenceElement(items []*Dataset) []*Dataset {
	return items
}
