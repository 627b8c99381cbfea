// Package format resolves the MIME type of an input from an explicit hint,
// the file extension or the content itself.
package format

import (
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
)

const octetStream = "application/octet-stream"

// Claimer reports whether some registered extractor handles a MIME type.
type Claimer interface {
	Supports(mimeType string) bool
	SupportedTypes() []string
}

// Resolver implements hint -> extension -> sniffing resolution.
type Resolver struct {
	claimer Claimer
}

// NewResolver creates a resolver. A nil claimer accepts every known type.
func NewResolver(claimer Claimer) *Resolver {
	return &Resolver{claimer: claimer}
}

// DetectFile resolves the MIME type of a file on disk. IO failures are
// returned unwrapped.
func (r *Resolver) DetectFile(path, hint string) (string, error) {
	if h, ok, err := r.checkHint(hint); ok || err != nil {
		return h, err
	}

	byExt, _ := FromExtension(path)
	if byExt != "" && r.claimed(byExt) {
		return byExt, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	sniffed := sniff(head[:n], f, info.Size())
	return r.finish(byExt, sniffed)
}

// DetectBytes resolves the MIME type of in-memory content.
func (r *Resolver) DetectBytes(data []byte, hint string) (string, error) {
	if h, ok, err := r.checkHint(hint); ok || err != nil {
		return h, err
	}
	return r.finish("", Sniff(data))
}

func (r *Resolver) finish(byExt, sniffed string) (string, error) {
	if sniffed != "" && r.claimed(sniffed) {
		return sniffed, nil
	}
	found := sniffed
	if found == "" {
		found = byExt
	}
	if found == "" {
		found = octetStream
	}
	return "", apperrors.NewUnsupportedFormatError(found, r.supported())
}

// checkHint accepts a claimed hint and rejects a well-formed unclaimed one.
// Empty, malformed and application/octet-stream hints defer to detection.
func (r *Resolver) checkHint(hint string) (string, bool, error) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return "", false, nil
	}
	mediaType, _, err := mime.ParseMediaType(hint)
	if err != nil || !strings.Contains(mediaType, "/") || mediaType == octetStream {
		return "", false, nil
	}
	if !r.claimed(mediaType) {
		return "", false, apperrors.NewUnsupportedFormatError(mediaType, r.supported())
	}
	return mediaType, true, nil
}

func (r *Resolver) claimed(mimeType string) bool {
	if r.claimer == nil {
		return IsKnown(mimeType)
	}
	return r.claimer.Supports(mimeType)
}

func (r *Resolver) supported() []string {
	if r.claimer != nil {
		return r.claimer.SupportedTypes()
	}
	return SupportedTypes()
}

// FromExtension looks the path's extension up in the static table.
func FromExtension(path string) (string, bool) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "", false
	}
	t, ok := extensionTypes[ext]
	return t, ok
}

// IsKnown reports whether the table or the image family covers mimeType.
func IsKnown(mimeType string) bool {
	if strings.HasPrefix(mimeType, "image/") {
		return true
	}
	for _, t := range extensionTypes {
		if t == mimeType {
			return true
		}
	}
	return false
}

// SupportedTypes lists the distinct MIME types of the extension table, sorted.
func SupportedTypes() []string {
	seen := make(map[string]struct{}, len(extensionTypes))
	for _, t := range extensionTypes {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Extensions returns the extensions mapped to mimeType, sorted.
func Extensions(mimeType string) []string {
	var out []string
	for ext, t := range extensionTypes {
		if t == mimeType {
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}
