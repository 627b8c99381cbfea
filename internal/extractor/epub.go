package extractor

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// extractEpub converts the spine's XHTML documents in reading order.
func (e *OfficeExtractor) extractEpub(ctx context.Context, p *zipPackage, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	container, err := p.mustTree("META-INF/container.xml")
	if err != nil {
		return nil, err
	}
	rootfile := container.find("rootfile")
	if rootfile == nil || rootfile.attr("full-path") == "" {
		return nil, apperrors.NewParsingError("container.xml names no rootfile", nil)
	}
	opfPath := rootfile.attr("full-path")
	opf, err := p.mustTree(opfPath)
	if err != nil {
		return nil, err
	}
	base := path.Dir(opfPath)

	type item struct{ href, mediaType string }
	manifest := make(map[string]item)
	if m := opf.find("manifest"); m != nil {
		for _, it := range m.findAll("item") {
			manifest[it.attr("id")] = item{href: it.attr("href"), mediaType: it.attr("media-type")}
		}
	}

	opts := cfg.HTMLOptions
	if opts == nil {
		opts = config.DefaultHTMLConversion()
	}
	var chapters []string
	if spine := opf.find("spine"); spine != nil {
		for _, ref := range spine.findAll("itemref") {
			it, ok := manifest[ref.attr("idref")]
			if !ok || !strings.Contains(it.mediaType, "html") {
				continue
			}
			href, err := url.PathUnescape(it.href)
			if err != nil {
				href = it.href
			}
			data, err := p.read(path.Join(base, href))
			if err != nil {
				return nil, apperrors.NewParsingError("failed to read chapter "+href, err)
			}
			if data == nil {
				continue
			}
			md, err := e.html.ToMarkdown(ctx, string(data), opts)
			if err != nil {
				return nil, err
			}
			if md != "" {
				chapters = append(chapters, md)
			}
		}
	}

	res := newResult(strings.Join(chapters, "\n\n"), mimeType, nil)
	cp := coreProps{
		title:       opf.childText("title"),
		subject:     opf.childText("subject"),
		description: opf.childText("description"),
		created:     opf.childText("date"),
	}
	var creators []string
	for _, c := range opf.findAll("creator") {
		if s := strings.TrimSpace(c.textContent()); s != "" {
			creators = append(creators, s)
		}
	}
	cp.creator = strings.Join(creators, "; ")
	cp.apply(&res.Metadata)
	res.Metadata.Language = opf.childText("language")
	res.Metadata.SetAdditional("chapter_count", len(chapters))
	return res, nil
}
