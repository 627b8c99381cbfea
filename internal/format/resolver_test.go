package format

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
)

type fakeClaimer map[string]bool

func (f fakeClaimer) Supports(m string) bool { return f[m] }
func (f fakeClaimer) SupportedTypes() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	return out
}

func TestExtensionTableSize(t *testing.T) {
	assert.GreaterOrEqual(t, len(extensionTypes), 118)
}

func TestDetectFileByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.PDF")
	require.NoError(t, os.WriteFile(path, []byte("not really a pdf"), 0o644))

	r := NewResolver(nil)
	got, err := r.DetectFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", got)
}

func TestDetectHintWins(t *testing.T) {
	r := NewResolver(nil)
	got, err := r.DetectBytes([]byte("%PDF-1.7"), "text/plain; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", got)
}

func TestDetectMalformedHintFallsThrough(t *testing.T) {
	r := NewResolver(nil)
	for _, hint := range []string{"not a mime", "application/octet-stream", "  "} {
		got, err := r.DetectBytes([]byte("%PDF-1.7\n"), hint)
		require.NoError(t, err, hint)
		assert.Equal(t, "application/pdf", got, hint)
	}
}

func TestDetectUnsupportedHintIsRejected(t *testing.T) {
	r := NewResolver(fakeClaimer{"text/plain": true, "application/pdf": true})
	_, err := r.DetectBytes([]byte("hello world, plain text"), "application/x-unknown-format")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorUnsupportedFormat, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "application/x-unknown-format")

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain"), 0o644))
	_, err = r.DetectFile(path, "application/x-unknown-format")
	assert.Equal(t, apperrors.ErrorUnsupportedFormat, apperrors.KindOf(err))
}

func TestDetectLargeExtensionlessJSON(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"items": [`)
	for i := 0; sb.Len() < 3*sniffLen; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"id": %d, "name": "item number %d"}`, i, i)
	}
	sb.WriteString("]}")

	dir := t.TempDir()
	path := filepath.Join(dir, "payload")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))

	r := NewResolver(nil)
	got, err := r.DetectFile(path, "")
	require.NoError(t, err)
	assert.Equal(t, "application/json", got)

	broken := filepath.Join(dir, "broken")
	require.NoError(t, os.WriteFile(broken, []byte(sb.String()[:sb.Len()-1]+"}}"), 0o644))
	got, err = r.DetectFile(broken, "")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", got)
}

func TestSniffTrimsByteOrderMark(t *testing.T) {
	assert.Equal(t, "text/html", Sniff([]byte("\uFEFF<!DOCTYPE html><html></html>")))
}

func TestDetectMissingFileIsRawIOError(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.DetectFile(filepath.Join(t.TempDir(), "missing.bin"), "")
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, apperrors.ErrorIO, apperrors.KindOf(err))
}

func TestDetectUnclaimedType(t *testing.T) {
	r := NewResolver(fakeClaimer{"text/plain": true})
	_, err := r.DetectBytes([]byte("%PDF-1.4 binary"), "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorUnsupportedFormat, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "text/plain")
}

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0}, "image/jpeg"},
		{"html", []byte("<!DOCTYPE html><html><body>x</body></html>"), "text/html"},
		{"svg", []byte(`<?xml version="1.0"?><svg xmlns="http://www.w3.org/2000/svg"></svg>`), "image/svg+xml"},
		{"xml", []byte(`<?xml version="1.0"?><root/>`), "application/xml"},
		{"json", []byte(`  {"a": [1, 2]}`), "application/json"},
		{"email", []byte("From: a@example.com\nTo: b@example.com\nSubject: hi\n\nbody"), "message/rfc822"},
		{"text", []byte("just some words"), "text/plain"},
		{"gzip", []byte{0x1F, 0x8B, 0x08, 0x00}, "application/gzip"},
		{"binary", []byte{0x00, 0x01, 0x02, 0x03, 0x04}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sniff(tt.data))
		})
	}
}

func TestSniffOfficeZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, _ = w.Write([]byte("<Types/>"))
	w, err = zw.Create("word/document.xml")
	require.NoError(t, err)
	_, _ = w.Write([]byte("<w:document/>"))
	require.NoError(t, zw.Close())

	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", Sniff(buf.Bytes()))
}

func TestSupportedTypesSortedAndDistinct(t *testing.T) {
	types := SupportedTypes()
	seen := map[string]bool{}
	for i, ty := range types {
		assert.False(t, seen[ty], "duplicate %s", ty)
		seen[ty] = true
		if i > 0 {
			assert.Less(t, types[i-1], ty)
		}
	}
	assert.Contains(t, Extensions("image/jpeg"), "jpg")
}
