// Package types holds the unified extraction result model shared by every
// extractor, the pipeline and the outer surfaces.
package types

// ExtractionResult is the format-agnostic output of one extraction.
type ExtractionResult struct {
	Content           string           `json:"content"`
	MimeType          string           `json:"mime_type"`
	Metadata          Metadata         `json:"metadata"`
	Tables            []Table          `json:"tables"`
	DetectedLanguages []string         `json:"detected_languages,omitempty"`
	Chunks            []Chunk          `json:"chunks,omitempty"`
	Images            []ExtractedImage `json:"images,omitempty"`
	Pages             []PageContent    `json:"pages,omitempty"`
	Success           bool             `json:"success"`
}

// Table is a reconstructed table. Cells are row-major.
type Table struct {
	Cells      [][]string `json:"cells"`
	Markdown   string     `json:"markdown"`
	PageNumber int        `json:"page_number"`
}

// PageContent is the per-page slice of the content.
type PageContent struct {
	PageNumber int     `json:"page_number"`
	Content    string  `json:"content"`
	Tables     []Table `json:"tables,omitempty"`
}

type Chunk struct {
	Content   string        `json:"content"`
	Embedding []float32     `json:"embedding,omitempty"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// ChunkMetadata locates a chunk in the content. Byte offsets are half-open.
type ChunkMetadata struct {
	ByteStart   int  `json:"byte_start"`
	ByteEnd     int  `json:"byte_end"`
	CharCount   int  `json:"char_count"`
	TokenCount  *int `json:"token_count,omitempty"`
	FirstPage   *int `json:"first_page,omitempty"`
	LastPage    *int `json:"last_page,omitempty"`
	ChunkIndex  int  `json:"chunk_index"`
	TotalChunks int  `json:"total_chunks"`
}

type ExtractedImage struct {
	Data             []byte            `json:"data"`
	Format           string            `json:"format"`
	ImageIndex       int               `json:"image_index"`
	PageNumber       *int              `json:"page_number,omitempty"`
	Width            *int              `json:"width,omitempty"`
	Height           *int              `json:"height,omitempty"`
	Colorspace       string            `json:"colorspace,omitempty"`
	BitsPerComponent *int              `json:"bits_per_component,omitempty"`
	IsMask           bool              `json:"is_mask"`
	Description      string            `json:"description,omitempty"`
	OCRResult        *ExtractionResult `json:"ocr_result,omitempty"`
}

// Clone returns a deep copy. Image payloads are shared; they are never mutated.
func (r *ExtractionResult) Clone() *ExtractionResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = r.Metadata.Clone()
	out.Tables = cloneTables(r.Tables)
	if r.DetectedLanguages != nil {
		out.DetectedLanguages = append([]string(nil), r.DetectedLanguages...)
	}
	if r.Chunks != nil {
		out.Chunks = make([]Chunk, len(r.Chunks))
		for i, c := range r.Chunks {
			out.Chunks[i] = c
			if c.Embedding != nil {
				out.Chunks[i].Embedding = append([]float32(nil), c.Embedding...)
			}
		}
	}
	if r.Images != nil {
		out.Images = make([]ExtractedImage, len(r.Images))
		for i, img := range r.Images {
			out.Images[i] = img
			out.Images[i].OCRResult = img.OCRResult.Clone()
		}
	}
	if r.Pages != nil {
		out.Pages = make([]PageContent, len(r.Pages))
		for i, p := range r.Pages {
			out.Pages[i] = p
			out.Pages[i].Tables = cloneTables(p.Tables)
		}
	}
	return &out
}

func cloneTables(in []Table) []Table {
	if in == nil {
		return nil
	}
	out := make([]Table, len(in))
	for i, t := range in {
		out[i] = t
		out[i].Cells = make([][]string, len(t.Cells))
		for j, row := range t.Cells {
			out[i].Cells[j] = append([]string(nil), row...)
		}
	}
	return out
}

// NewErrorResult is the placeholder a batch returns for a failed item.
func NewErrorResult(mimeType, errorType, message string) *ExtractionResult {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &ExtractionResult{
		MimeType: mimeType,
		Metadata: Metadata{Error: &ErrorMetadata{ErrorType: errorType, Message: message}},
		Success:  false,
	}
}

// IntPtr is shorthand for optional integer fields.
func IntPtr(v int) *int { return &v }
