package types

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// FormatType tags the format-specific metadata variant.
type FormatType string

const (
	FormatPdf     FormatType = "pdf"
	FormatExcel   FormatType = "excel"
	FormatEmail   FormatType = "email"
	FormatPptx    FormatType = "pptx"
	FormatArchive FormatType = "archive"
	FormatImage   FormatType = "image"
	FormatXML     FormatType = "xml"
	FormatText    FormatType = "text"
	FormatHTML    FormatType = "html"
	FormatOCR     FormatType = "ocr"
)

// FormatMetadata is implemented by one struct per format.
type FormatMetadata interface {
	FormatType() FormatType
}

// Metadata is serialized as a single flat object: the common fields, the
// format variant's fields next to "format_type", and every Additional key.
type Metadata struct {
	Language           string                      `json:"language,omitempty"`
	Date               string                      `json:"date,omitempty"`
	Subject            string                      `json:"subject,omitempty"`
	Format             FormatMetadata              `json:"-"`
	Pages              *PageStructure              `json:"pages,omitempty"`
	ImagePreprocessing *ImagePreprocessingMetadata `json:"image_preprocessing,omitempty"`
	JSONSchema         json.RawMessage             `json:"json_schema,omitempty"`
	Error              *ErrorMetadata              `json:"error,omitempty"`
	Additional         map[string]interface{}      `json:"-"`
}

type ErrorMetadata struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
}

// SetAdditional records an open-ended key.
func (m *Metadata) SetAdditional(key string, value interface{}) {
	if m.Additional == nil {
		m.Additional = make(map[string]interface{})
	}
	m.Additional[key] = value
}

// Clone copies the maps and pointers the pipeline may mutate.
func (m Metadata) Clone() Metadata {
	out := m
	if m.Additional != nil {
		out.Additional = make(map[string]interface{}, len(m.Additional))
		for k, v := range m.Additional {
			out.Additional[k] = v
		}
	}
	if m.Pages != nil {
		ps := *m.Pages
		ps.Boundaries = append([]PageBoundary(nil), m.Pages.Boundaries...)
		ps.Pages = append([]PageInfo(nil), m.Pages.Pages...)
		out.Pages = &ps
	}
	if m.Error != nil {
		e := *m.Error
		out.Error = &e
	}
	return out
}

type metadataCommon struct {
	Language           string                      `json:"language,omitempty"`
	Date               string                      `json:"date,omitempty"`
	Subject            string                      `json:"subject,omitempty"`
	Pages              *PageStructure              `json:"pages,omitempty"`
	ImagePreprocessing *ImagePreprocessingMetadata `json:"image_preprocessing,omitempty"`
	JSONSchema         json.RawMessage             `json:"json_schema,omitempty"`
	Error              *ErrorMetadata              `json:"error,omitempty"`
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage)
	for k, v := range m.Additional {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", k, err)
		}
		out[k] = raw
	}
	if m.Format != nil {
		if err := mergeObject(out, m.Format); err != nil {
			return nil, err
		}
		tag, _ := json.Marshal(m.Format.FormatType())
		out["format_type"] = tag
	}
	common := metadataCommon{
		Language:           m.Language,
		Date:               m.Date,
		Subject:            m.Subject,
		Pages:              m.Pages,
		ImagePreprocessing: m.ImagePreprocessing,
		JSONSchema:         m.JSONSchema,
		Error:              m.Error,
	}
	if err := mergeObject(out, common); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func mergeObject(dst map[string]json.RawMessage, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	for k, raw := range fields {
		dst[k] = raw
	}
	return nil
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	var common metadataCommon
	if err := json.Unmarshal(b, &common); err != nil {
		return err
	}
	*m = Metadata{
		Language:           common.Language,
		Date:               common.Date,
		Subject:            common.Subject,
		Pages:              common.Pages,
		ImagePreprocessing: common.ImagePreprocessing,
		JSONSchema:         common.JSONSchema,
		Error:              common.Error,
	}
	for _, k := range jsonFieldNames(reflect.TypeOf(common)) {
		delete(fields, k)
	}

	if rawTag, ok := fields["format_type"]; ok {
		var tag FormatType
		if err := json.Unmarshal(rawTag, &tag); err != nil {
			return err
		}
		variant, err := newFormatMetadata(tag)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(b, variant); err != nil {
			return fmt.Errorf("decode %s metadata: %w", tag, err)
		}
		m.Format = variant
		delete(fields, "format_type")
		for _, k := range jsonFieldNames(reflect.TypeOf(variant).Elem()) {
			delete(fields, k)
		}
	}

	for k, raw := range fields {
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		m.SetAdditional(k, v)
	}
	return nil
}

func newFormatMetadata(tag FormatType) (FormatMetadata, error) {
	switch tag {
	case FormatPdf:
		return &PdfMetadata{}, nil
	case FormatExcel:
		return &ExcelMetadata{}, nil
	case FormatEmail:
		return &EmailMetadata{}, nil
	case FormatPptx:
		return &PptxMetadata{}, nil
	case FormatArchive:
		return &ArchiveMetadata{}, nil
	case FormatImage:
		return &ImageMetadata{}, nil
	case FormatXML:
		return &XMLMetadata{}, nil
	case FormatText:
		return &TextMetadata{}, nil
	case FormatHTML:
		return &HtmlMetadata{}, nil
	case FormatOCR:
		return &OcrMetadata{}, nil
	}
	return nil, fmt.Errorf("unknown format_type %q", tag)
}

func jsonFieldNames(t reflect.Type) []string {
	names := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name == "" || name == "-" {
			continue
		}
		names = append(names, name)
	}
	return names
}
