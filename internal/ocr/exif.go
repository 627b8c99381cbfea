package ocr

import (
	"encoding/binary"
	"strconv"
	"strings"
)

var exifTagNames = map[uint16]string{
	0x010E: "ImageDescription",
	0x010F: "Make",
	0x0110: "Model",
	0x0112: "Orientation",
	0x0131: "Software",
	0x0132: "DateTime",
	0x013B: "Artist",
	0x8298: "Copyright",
}

// ReadEXIF returns the IFD0 tags of a JPEG's Exif segment. Anything that is
// not a JPEG with a well-formed Exif block yields nil.
func ReadEXIF(data []byte) map[string]string {
	seg := findExifSegment(data)
	if seg == nil {
		return nil
	}
	return parseIFD0(seg)
}

func findExifSegment(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return nil
		}
		marker := data[i+1]
		switch {
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD8):
			i += 2
			continue
		case marker == 0xDA || marker == 0xD9:
			return nil
		}
		size := int(binary.BigEndian.Uint16(data[i+2:]))
		if size < 2 || i+2+size > len(data) {
			return nil
		}
		payload := data[i+4 : i+2+size]
		if marker == 0xE1 && len(payload) > 6 && string(payload[:6]) == "Exif\x00\x00" {
			return payload[6:]
		}
		i += 2 + size
	}
	return nil
}

func parseIFD0(t []byte) map[string]string {
	if len(t) < 8 {
		return nil
	}
	var bo binary.ByteOrder
	switch string(t[:2]) {
	case "II":
		bo = binary.LittleEndian
	case "MM":
		bo = binary.BigEndian
	default:
		return nil
	}
	if bo.Uint16(t[2:]) != 42 {
		return nil
	}
	off := int(bo.Uint32(t[4:]))
	if off < 8 || off+2 > len(t) {
		return nil
	}

	tags := make(map[string]string)
	n := int(bo.Uint16(t[off:]))
	for k := 0; k < n; k++ {
		e := off + 2 + k*12
		if e+12 > len(t) {
			break
		}
		name, ok := exifTagNames[bo.Uint16(t[e:])]
		if !ok {
			continue
		}
		typ := bo.Uint16(t[e+2:])
		count := int(bo.Uint32(t[e+4:]))
		switch typ {
		case 2: // ASCII
			var raw []byte
			if count <= 4 {
				raw = t[e+8 : e+8+count]
			} else {
				vo := int(bo.Uint32(t[e+8:]))
				if vo < 0 || count < 0 || vo+count > len(t) {
					continue
				}
				raw = t[vo : vo+count]
			}
			tags[name] = strings.TrimRight(string(raw), "\x00 ")
		case 3: // SHORT
			tags[name] = strconv.Itoa(int(bo.Uint16(t[e+8:])))
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// exifOrientation is the 1-8 orientation tag, 1 when absent.
func exifOrientation(data []byte) int {
	o, err := strconv.Atoi(ReadEXIF(data)["Orientation"])
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}
