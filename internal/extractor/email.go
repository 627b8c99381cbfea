package extractor

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/adverant/nexus/extraction-engine/internal/config"
	apperrors "github.com/adverant/nexus/extraction-engine/internal/errors"
	"github.com/adverant/nexus/extraction-engine/internal/types"
)

// maxMIMEDepth bounds multipart nesting.
const maxMIMEDepth = 16

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.NewReaderLabel}

// EmailExtractor reads RFC 822 messages. The first text/plain part is the
// body; without one the first text/html part is converted to markdown.
type EmailExtractor struct {
	html *HTMLExtractor
}

func NewEmailExtractor(html *HTMLExtractor) *EmailExtractor {
	return &EmailExtractor{html: html}
}

func (e *EmailExtractor) Name() string  { return "email" }
func (e *EmailExtractor) Priority() int { return DefaultPriority }

type mailParts struct {
	plain, html string
	attachments []string
}

func (e *EmailExtractor) Extract(ctx context.Context, data []byte, mimeType string, cfg *config.ExtractionConfig) (*types.ExtractionResult, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.NewParsingError("Failed to parse EML file: invalid email format", err)
	}

	parts := &mailParts{}
	if err := walkMIME(msg.Header, msg.Body, parts, 0); err != nil {
		return nil, apperrors.NewParsingError("failed to read message body", err)
	}

	body := parts.plain
	if strings.TrimSpace(body) == "" && parts.html != "" {
		opts := cfg.HTMLOptions
		if opts == nil {
			opts = config.DefaultHTMLConversion()
		}
		if body, err = e.html.ToMarkdown(ctx, parts.html, opts); err != nil {
			return nil, err
		}
	}

	meta := &types.EmailMetadata{
		MessageID:   strings.Trim(msg.Header.Get("Message-Id"), "<> "),
		ToEmails:    addresses(msg.Header, "To"),
		CcEmails:    addresses(msg.Header, "Cc"),
		BccEmails:   addresses(msg.Header, "Bcc"),
		Attachments: parts.attachments,
	}
	if from := addressList(msg.Header, "From"); len(from) > 0 {
		meta.FromEmail = from[0].Address
		meta.FromName = from[0].Name
	}
	subject := decodeHeader(msg.Header.Get("Subject"))
	var date string
	if t, err := msg.Header.Date(); err == nil {
		date = t.Format(time.RFC3339)
	}

	var lines []string
	if subject != "" {
		lines = append(lines, "Subject: "+subject)
	}
	if meta.FromEmail != "" {
		lines = append(lines, "From: "+meta.FromEmail)
	}
	for _, h := range []struct {
		label string
		addrs []string
	}{{"To", meta.ToEmails}, {"CC", meta.CcEmails}, {"BCC", meta.BccEmails}} {
		if len(h.addrs) > 0 {
			lines = append(lines, fmt.Sprintf("%s: %s", h.label, strings.Join(h.addrs, ", ")))
		}
	}
	if date != "" {
		lines = append(lines, "Date: "+date)
	}
	lines = append(lines, strings.TrimSpace(body))
	if len(parts.attachments) > 0 {
		lines = append(lines, "Attachments: "+strings.Join(parts.attachments, ", "))
	}

	res := newResult(strings.Join(lines, "\n"), mimeType, meta)
	res.Metadata.Subject = subject
	res.Metadata.Date = date
	return res, nil
}

func header(h map[string][]string, key string) string {
	for k, v := range h {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func walkMIME(h map[string][]string, body io.Reader, parts *mailParts, depth int) error {
	mediaType, params, err := mime.ParseMediaType(header(h, "Content-Type"))
	if err != nil {
		mediaType, params = "text/plain", map[string]string{}
	}
	disposition, dparams, _ := mime.ParseMediaType(header(h, "Content-Disposition"))

	if strings.HasPrefix(mediaType, "multipart/") && depth < maxMIMEDepth {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			p, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := walkMIME(p.Header, p, parts, depth+1); err != nil {
				return err
			}
		}
	}

	name := dparams["filename"]
	if name == "" {
		name = params["name"]
	}
	if disposition == "attachment" || name != "" || !strings.HasPrefix(mediaType, "text/") {
		if name == "" {
			name = "unnamed." + strings.ReplaceAll(mediaType, "/", "-")
		}
		parts.attachments = append(parts.attachments, decodeHeader(name))
		return nil
	}

	text, err := readPart(body, header(h, "Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return err
	}
	switch {
	case mediaType == "text/html" && parts.html == "":
		parts.html = text
	case mediaType != "text/html" && parts.plain == "":
		parts.plain = text
	}
	return nil
}

func readPart(body io.Reader, encoding, cs string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		body = quotedprintable.NewReader(body)
	case "base64":
		body = base64.NewDecoder(base64.StdEncoding, body)
	}
	if cs != "" && !strings.EqualFold(cs, "utf-8") && !strings.EqualFold(cs, "us-ascii") {
		if r, err := charset.NewReaderLabel(cs, body); err == nil {
			body = r
		}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return validUTF8(string(data)), nil
}

func decodeHeader(s string) string {
	if dec, err := wordDecoder.DecodeHeader(s); err == nil {
		return strings.TrimSpace(dec)
	}
	return strings.TrimSpace(s)
}

func addressList(h mail.Header, key string) []*mail.Address {
	raw := h.Get(key)
	if raw == "" {
		return nil
	}
	parser := mail.AddressParser{WordDecoder: wordDecoder}
	list, err := parser.ParseList(raw)
	if err != nil {
		return nil
	}
	return list
}

func addresses(h mail.Header, key string) []string {
	var out []string
	for _, a := range addressList(h, key) {
		out = append(out, a.Address)
	}
	return out
}
