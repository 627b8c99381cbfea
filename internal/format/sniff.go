package format

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"unicode/utf8"
)

const sniffLen = 8192

// Sniff detects the MIME type from content. Returns "" when nothing matches.
func Sniff(data []byte) string {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
	}
	return sniff(head, bytes.NewReader(data), int64(len(data)))
}

// sniff inspects head; ra/size give random access for ZIP introspection.
func sniff(data []byte, ra io.ReaderAt, size int64) string {
	if len(data) < 4 {
		if len(data) > 0 && utf8.Valid(data) {
			return "text/plain"
		}
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return "application/pdf"
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return "image/png"
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return "image/jpeg"
	}

	// GIF: 'G' 'I' 'F' '8' ('7' or '9') 'a'
	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return "image/gif"
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) > 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return "image/webp"
	}

	// TIFF: 'I' 'I' 0x2A 0x00 (little-endian) or 'M' 'M' 0x00 0x2A (big-endian)
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return "image/tiff"
	}

	// BMP: 'B' 'M' followed by a plausible header size
	if bytes.HasPrefix(data, []byte("BM")) && len(data) >= 26 {
		return "image/bmp"
	}

	// JPEG 2000 signature box
	if len(data) >= 12 && bytes.Equal(data[4:12], []byte("jP  \r\n\x87\n")) {
		return "image/jp2"
	}

	// ZIP (and Office documents, ODF, EPUB): 'P' 'K' 0x03 0x04
	if bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}) {
		return sniffZip(data, ra, size)
	}

	// MS Office legacy (DOC, XLS, PPT): 0xD0 0xCF 0x11 0xE0 0xA1 0xB1 0x1A 0xE1
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}) {
		return sniffOLE(data)
	}

	switch {
	case bytes.HasPrefix(data, []byte{0x1F, 0x8B}):
		return "application/gzip"
	case bytes.HasPrefix(data, []byte("7z\xBC\xAF\x27\x1C")):
		return "application/x-7z-compressed"
	case bytes.HasPrefix(data, []byte("BZh")):
		return "application/x-bzip2"
	case bytes.HasPrefix(data, []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}):
		return "application/x-xz"
	case bytes.HasPrefix(data, []byte("Rar!\x1A\x07")):
		return "application/vnd.rar"
	case len(data) > 262 && string(data[257:262]) == "ustar":
		return "application/x-tar"
	case bytes.HasPrefix(data, []byte(`{\rtf`)):
		return "application/rtf"
	}

	return sniffText(data, ra, size)
}

func sniffZip(data []byte, ra io.ReaderAt, size int64) string {
	// EPUB and ODF store an uncompressed "mimetype" entry first
	headerSlice := data[:min(100, len(data))]
	if bytes.Contains(headerSlice, []byte("mimetypeapplication/epub+zip")) {
		return "application/epub+zip"
	}
	if i := bytes.Index(headerSlice, []byte("mimetypeapplication/vnd.oasis.opendocument.")); i >= 0 {
		rest := data[i+len("mimetype"):]
		if j := bytes.Index(rest, []byte("PK")); j > 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(string(rest))
	}

	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return "application/zip"
	}
	for _, f := range zr.File {
		switch {
		case f.Name == "word/document.xml":
			return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		case f.Name == "xl/workbook.xml":
			return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		case f.Name == "ppt/presentation.xml":
			return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
		case f.Name == "mimetype":
			if t := readSmall(f); t != "" {
				return t
			}
		}
	}
	return "application/zip"
}

func readSmall(f *zip.File) string {
	rc, err := f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()
	b, err := io.ReadAll(io.LimitReader(rc, 128))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// sniffOLE guesses the legacy Office flavour from stream names in the header sectors.
func sniffOLE(data []byte) string {
	utf16 := func(s string) []byte {
		out := make([]byte, 0, len(s)*2)
		for _, c := range []byte(s) {
			out = append(out, c, 0)
		}
		return out
	}
	switch {
	case bytes.Contains(data, utf16("WordDocument")):
		return "application/msword"
	case bytes.Contains(data, utf16("Workbook")), bytes.Contains(data, utf16("Book")):
		return "application/vnd.ms-excel"
	case bytes.Contains(data, utf16("PowerPoint Document")):
		return "application/vnd.ms-powerpoint"
	case bytes.Contains(data, utf16("__substg1.0_")):
		return "application/vnd.ms-outlook"
	}
	return "application/msword" // Could be DOC, XLS, PPT - generic MS Office
}

var emailHeaders = []string{"from:", "received:", "return-path:", "mime-version:", "message-id:", "delivered-to:", "date:", "subject:", "to:"}

func sniffText(data []byte, ra io.ReaderAt, size int64) string {
	if bytes.IndexByte(data, 0) >= 0 {
		return ""
	}
	// the head may end mid-rune
	valid := utf8.Valid(data)
	if !valid {
		trimmed := data
		for i := 0; i < utf8.UTFMax && len(trimmed) > 0 && !utf8.Valid(trimmed); i++ {
			trimmed = trimmed[:len(trimmed)-1]
		}
		valid = utf8.Valid(trimmed)
	}
	if !valid {
		return ""
	}

	text := strings.TrimLeft(string(data), " \t\r\n\uFEFF")
	lower := strings.ToLower(text[:min(1024, len(text))])

	switch {
	case strings.HasPrefix(lower, "<?xml"):
		if strings.Contains(lower, "<svg") {
			return "image/svg+xml"
		}
		if strings.Contains(lower, "<html") {
			return "application/xhtml+xml"
		}
		return "application/xml"
	case strings.HasPrefix(lower, "<!doctype html"), strings.HasPrefix(lower, "<html"),
		strings.HasPrefix(lower, "<head"), strings.HasPrefix(lower, "<body"):
		return "text/html"
	case strings.HasPrefix(lower, "<svg"):
		return "image/svg+xml"
	case strings.HasPrefix(text, "{") || strings.HasPrefix(text, "["):
		if json.Valid(bytes.TrimSpace(data)) {
			return "application/json"
		}
		if size > int64(len(data)) && validJSONStream(io.NewSectionReader(ra, 0, size)) {
			return "application/json"
		}
	}

	if looksLikeEmail(lower) {
		return "message/rfc822"
	}
	return "text/plain"
}

// validJSONStream token-scans r so content past the sniffed head is checked
// without buffering it.
func validJSONStream(r io.Reader) bool {
	dec := json.NewDecoder(r)
	for {
		if _, err := dec.Token(); err != nil {
			if err != io.EOF {
				return false
			}
			break
		}
	}
	return dec.InputOffset() > 0
}

func looksLikeEmail(lower string) bool {
	lines := strings.SplitN(lower, "\n", 12)
	hits := 0
	first := false
	for i, line := range lines {
		for _, h := range emailHeaders {
			if strings.HasPrefix(line, h) {
				hits++
				first = first || i == 0
				break
			}
		}
	}
	return first && hits >= 2
}
