package extractor

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

var archiveMimeTypes = []string{
	"application/zip",
	"application/x-zip-compressed",
	"application/x-tar",
	"application/gzip",
	"application/x-gzip",
	"application/x-gtar",
	"application/x-bzip2",
}

// archiveTextExtensions are the members whose contents are inlined.
var archiveTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".xml": true, ".html": true,
	".csv": true, ".log": true, ".yaml": true, ".yml": true, ".toml": true,
}

const (
	// maxArchiveText bounds a single inlined member.
	maxArchiveText = 10 << 20
	// maxArchiveEntries bounds how many members are listed.
	maxArchiveEntries = 100000
)

// ArchiveExtractor lists archive members and inlines the text ones.
type ArchiveExtractor struct{}

func NewArchiveExtractor() *ArchiveExtractor { return &ArchiveExtractor{} }

func (e *ArchiveExtractor) Name() string  { return "archive" }
func (e *ArchiveExtractor) Priority() int { return DefaultPriority }

type archiveEntry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

type archiveListing struct {
	format     string
	entries    []archiveEntry
	texts      []archiveText
	compressed *int64
}

type archiveText struct {
	path, content string
}

func (l *archiveListing) add(name string, size int64, isDir bool, open func() (io.ReadCloser, error)) error {
	if len(l.entries) >= maxArchiveEntries {
		return nil
	}
	l.entries = append(l.entries, archiveEntry{Path: name, Size: size, IsDir: isDir})
	if isDir || !archiveTextExtensions[strings.ToLower(path.Ext(name))] {
		return nil
	}
	rc, err := open()
	if err != nil {
		return err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxArchiveText))
	if err != nil {
		return err
	}
	l.texts = append(l.texts, archiveText{path: name, content: validUTF8(string(data))})
	return nil
}

func (e *ArchiveExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	var (
		listing *archiveListing
		err     error
	)
	switch mimeType {
	case "application/zip", "application/x-zip-compressed":
		listing, err = listZip(data)
	case "application/x-tar":
		listing, err = listTar(bytes.NewReader(data), "TAR")
	case "application/x-bzip2":
		listing, err = listCompressed(bzip2.NewReader(bytes.NewReader(data)), "BZIP2", "", int64(len(data)))
	default:
		var zr *gzip.Reader
		if zr, err = gzip.NewReader(bytes.NewReader(data)); err == nil {
			listing, err = listCompressed(zr, "GZIP", zr.Name, int64(len(data)))
		}
	}
	if err != nil {
		return nil, apperrors.NewParsingError(fmt.Sprintf("failed to read %s archive", mimeType), err)
	}

	meta := &types.ArchiveMetadata{
		Format:         listing.format,
		FileList:       []string{},
		CompressedSize: listing.compressed,
	}
	for _, en := range listing.entries {
		meta.FileList = append(meta.FileList, en.Path)
		if !en.IsDir {
			meta.FileCount++
			meta.TotalSize += en.Size
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s Archive (%d files, %d bytes)\n\nFiles:\n", meta.Format, meta.FileCount, meta.TotalSize)
	for _, en := range listing.entries {
		fmt.Fprintf(&sb, "- %s (%d bytes)\n", en.Path, en.Size)
	}
	if len(listing.texts) > 0 {
		sb.WriteString("\n\nText File Contents:\n\n")
		for _, t := range listing.texts {
			fmt.Fprintf(&sb, "=== %s ===\n%s\n\n", t.path, t.content)
		}
	}

	res := newResult(strings.TrimRight(sb.String(), "\n"), mimeType, meta)
	res.Metadata.SetAdditional("files", listing.entries)
	return res, nil
}

func listZip(data []byte) (*archiveListing, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	l := &archiveListing{format: "ZIP"}
	var compressed int64
	for _, f := range zr.File {
		compressed += int64(f.CompressedSize64)
		err := l.add(f.Name, int64(f.UncompressedSize64), f.FileInfo().IsDir(), f.Open)
		if err != nil {
			return nil, err
		}
	}
	l.compressed = &compressed
	return l, nil
}

func listTar(r io.Reader, format string) (*archiveListing, error) {
	tr := tar.NewReader(r)
	l := &archiveListing{format: format}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch hdr.Typeflag {
		case tar.TypeReg, tar.TypeDir:
		default:
			continue
		}
		err = l.add(hdr.Name, hdr.Size, hdr.Typeflag == tar.TypeDir, func() (io.ReadCloser, error) { return io.NopCloser(tr), nil })
		if err != nil {
			return nil, err
		}
	}
	return l, nil
}

// listCompressed handles a single compressed stream, which is either a
// tarball or one file.
func listCompressed(r io.Reader, format, name string, compressedSize int64) (*archiveListing, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(r, maxZipMember)); err != nil {
		return nil, err
	}
	inner := buf.Bytes()

	var l *archiveListing
	if len(inner) > 262 && string(inner[257:262]) == "ustar" {
		var err error
		tarFormat := map[string]string{"GZIP": "TGZ", "BZIP2": "TBZ2"}[format]
		if l, err = listTar(bytes.NewReader(inner), tarFormat); err != nil {
			return nil, err
		}
	} else {
		l = &archiveListing{format: format}
		if name == "" {
			name = "data"
		}
		if err := l.add(name, int64(len(inner)), false, func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(inner)), nil }); err != nil {
			return nil, err
		}
	}
	l.compressed = &compressedSize
	return l, nil
}
