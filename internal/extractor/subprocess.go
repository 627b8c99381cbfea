package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/logging"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

const defaultSubprocessTimeout = 120 * time.Second

// officeConversions maps legacy formats to the OOXML format soffice converts
// them into.
var officeConversions = map[string]struct {
	ext, target, targetMime string
}{
	"application/msword":            {"doc", "docx", mimeDocx},
	"application/vnd.ms-excel":      {"xls", "xlsx", mimeXlsx},
	"application/vnd.ms-powerpoint": {"ppt", "pptx", mimePptx},
	"application/rtf":               {"rtf", "docx", mimeDocx},
	"text/rtf":                      {"rtf", "docx", mimeDocx},
}

var officeConverterMimeTypes = []string{
	"application/msword",
	"application/vnd.ms-excel",
	"application/vnd.ms-powerpoint",
	"application/rtf",
	"text/rtf",
}

// pandocReaders maps MIME types to pandoc input formats.
var pandocReaders = map[string]string{
	"application/docbook+xml":       "docbook",
	"application/x-jats+xml":        "jats",
	"application/x-fictionbook+xml": "fb2",
	"text/x-opml":                   "opml",
}

var pandocMimeTypes = []string{
	"application/docbook+xml",
	"application/x-jats+xml",
	"application/x-fictionbook+xml",
	"text/x-opml",
}

// commandRunner runs external tools; tests swap lookPath to simulate a host
// without them.
type commandRunner struct {
	lookPath func(string) (string, error)
	logger   *logging.Logger
}

func (r *commandRunner) find(hint string, names ...string) (string, error) {
	for _, n := range names {
		if p, err := r.lookPath(n); err == nil {
			return p, nil
		}
	}
	return "", apperrors.NewMissingDependencyError(names[0], hint)
}

func subprocessTimeout(cfg *config.ExtractionConfig) time.Duration {
	if cfg != nil && cfg.SubprocessTimeoutSeconds > 0 {
		return time.Duration(cfg.SubprocessTimeoutSeconds) * time.Second
	}
	return defaultSubprocessTimeout
}

// run executes bin with a bounded timeout and returns stdout.
func (r *commandRunner) run(ctx context.Context, cfg *config.ExtractionConfig, stdin []byte, bin string, args ...string) ([]byte, error) {
	timeout := subprocessTimeout(cfg)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	name := filepath.Base(bin)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, apperrors.NewParsingError(fmt.Sprintf("%s timed out after %v", name, timeout), ctx.Err())
	}
	if err != nil {
		return nil, apperrors.NewParsingError(
			fmt.Sprintf("%s failed: %s", name, tail(stderr.String(), 512)), err)
	}
	r.logger.Debug("Subprocess finished", "tool", name, "duration", time.Since(startTime))
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + strings.ToValidUTF8(s[len(s)-n:], "")
	}
	return s
}

// OfficeConverter converts legacy binary office formats to OOXML with
// LibreOffice and extracts the result.
type OfficeConverter struct {
	office *OfficeExtractor
	runner *commandRunner
}

func NewOfficeConverter(office *OfficeExtractor, logger *logging.Logger) *OfficeConverter {
	return &OfficeConverter{
		office: office,
		runner: &commandRunner{lookPath: exec.LookPath, logger: logging.OrDefault(logger).Named("soffice")},
	}
}

func (c *OfficeConverter) Name() string  { return "libreoffice" }
func (c *OfficeConverter) Priority() int { return DefaultPriority }

func (c *OfficeConverter) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	conv, ok := officeConversions[mimeType]
	if !ok {
		return nil, apperrors.NewUnsupportedFormatError(mimeType, officeConverterMimeTypes)
	}
	bin, err := c.runner.find("install LibreOffice and put soffice on PATH", "soffice", "libreoffice")
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "extract-soffice-*")
	if err != nil {
		return nil, apperrors.NewOtherError("failed to create temp dir", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input."+conv.ext)
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, apperrors.NewOtherError("failed to write temp file", err)
	}
	outDir := filepath.Join(dir, "out")
	// A private profile lets conversions run concurrently.
	profile := "-env:UserInstallation=file://" + filepath.ToSlash(filepath.Join(dir, "profile"))
	if _, err := c.runner.run(ctx, cfg, nil, bin, profile, "--headless", "--convert-to", conv.target, "--outdir", outDir, input); err != nil {
		return nil, err
	}

	converted, err := os.ReadFile(filepath.Join(outDir, "input."+conv.target))
	if err != nil {
		return nil, apperrors.NewParsingError("LibreOffice produced no output", err)
	}
	res, err := c.office.Extract(ctx, converted, conv.targetMime, cfg)
	if err != nil {
		return nil, err
	}
	res.MimeType = mimeType
	res.Metadata.SetAdditional("converted_via", "libreoffice")
	return res, nil
}

// PandocExtractor converts markup formats to markdown with pandoc.
type PandocExtractor struct {
	runner *commandRunner
}

func NewPandocExtractor(logger *logging.Logger) *PandocExtractor {
	return &PandocExtractor{runner: &commandRunner{lookPath: exec.LookPath, logger: logging.OrDefault(logger).Named("pandoc")}}
}

func (e *PandocExtractor) Name() string  { return "pandoc" }
func (e *PandocExtractor) Priority() int { return DefaultPriority }

func (e *PandocExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	from, ok := pandocReaders[mimeType]
	if !ok {
		return nil, apperrors.NewUnsupportedFormatError(mimeType, pandocMimeTypes)
	}
	bin, err := e.runner.find("install pandoc from https://pandoc.org/installing.html", "pandoc")
	if err != nil {
		return nil, err
	}
	out, err := e.runner.run(ctx, cfg, data, bin, "--from="+from, "--to=markdown", "--wrap=preserve", "--quiet")
	if err != nil {
		return nil, err
	}
	res := newResult(strings.TrimSpace(string(out)), mimeType, nil)
	res.Metadata.SetAdditional("converted_via", "pandoc")
	return res, nil
}
