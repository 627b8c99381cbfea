package types

type PdfMetadata struct {
	Title       string   `json:"title,omitempty"`
	Authors     []string `json:"authors,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	CreatedAt   string   `json:"created_at,omitempty"`
	ModifiedAt  string   `json:"modified_at,omitempty"`
	CreatedBy   string   `json:"created_by,omitempty"`
	Producer    string   `json:"producer,omitempty"`
	PageCount   int      `json:"page_count"`
	PdfVersion  string   `json:"pdf_version,omitempty"`
	IsEncrypted bool     `json:"is_encrypted"`
	Width       *float64 `json:"width,omitempty"`
	Height      *float64 `json:"height,omitempty"`
}

type ExcelMetadata struct {
	SheetCount int      `json:"sheet_count"`
	SheetNames []string `json:"sheet_names"`
}

type EmailMetadata struct {
	FromEmail   string   `json:"from_email,omitempty"`
	FromName    string   `json:"from_name,omitempty"`
	ToEmails    []string `json:"to_emails,omitempty"`
	CcEmails    []string `json:"cc_emails,omitempty"`
	BccEmails   []string `json:"bcc_emails,omitempty"`
	MessageID   string   `json:"message_id,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

type PptxMetadata struct {
	Title       string   `json:"title,omitempty"`
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Fonts       []string `json:"fonts,omitempty"`
	SlideCount  int      `json:"slide_count"`
}

type ArchiveMetadata struct {
	Format         string   `json:"format"`
	FileCount      int      `json:"file_count"`
	FileList       []string `json:"file_list"`
	TotalSize      int64    `json:"total_size"`
	CompressedSize *int64   `json:"compressed_size,omitempty"`
}

type ImageMetadata struct {
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Format string            `json:"format"`
	EXIF   map[string]string `json:"exif,omitempty"`
}

type XMLMetadata struct {
	ElementCount   int      `json:"element_count"`
	UniqueElements []string `json:"unique_elements"`
}

type TextMetadata struct {
	LineCount      int         `json:"line_count"`
	WordCount      int         `json:"word_count"`
	CharacterCount int         `json:"character_count"`
	Headers        []string    `json:"headers,omitempty"`
	Links          [][2]string `json:"links,omitempty"`
	CodeBlocks     [][2]string `json:"code_blocks,omitempty"`
}

type HtmlMetadata struct {
	Title              string `json:"title,omitempty"`
	Description        string `json:"description,omitempty"`
	Keywords           string `json:"keywords,omitempty"`
	Author             string `json:"author,omitempty"`
	Canonical          string `json:"canonical,omitempty"`
	BaseHref           string `json:"base_href,omitempty"`
	OgTitle            string `json:"og_title,omitempty"`
	OgDescription      string `json:"og_description,omitempty"`
	OgImage            string `json:"og_image,omitempty"`
	OgURL              string `json:"og_url,omitempty"`
	OgType             string `json:"og_type,omitempty"`
	OgSiteName         string `json:"og_site_name,omitempty"`
	TwitterCard        string `json:"twitter_card,omitempty"`
	TwitterTitle       string `json:"twitter_title,omitempty"`
	TwitterDescription string `json:"twitter_description,omitempty"`
	TwitterImage       string `json:"twitter_image,omitempty"`
	TwitterSite        string `json:"twitter_site,omitempty"`
	TwitterCreator     string `json:"twitter_creator,omitempty"`
	LinkAuthor         string `json:"link_author,omitempty"`
	LinkLicense        string `json:"link_license,omitempty"`
	LinkAlternate      string `json:"link_alternate,omitempty"`
}

type OcrMetadata struct {
	Language     string `json:"language"`
	PSM          int    `json:"psm"`
	OutputFormat string `json:"output_format"`
	Backend      string `json:"backend"`
	TableCount   int    `json:"table_count"`
	TableRows    *int   `json:"table_rows,omitempty"`
	TableCols    *int   `json:"table_cols,omitempty"`
}

func (*PdfMetadata) FormatType() FormatType     { return FormatPdf }
func (*ExcelMetadata) FormatType() FormatType   { return FormatExcel }
func (*EmailMetadata) FormatType() FormatType   { return FormatEmail }
func (*PptxMetadata) FormatType() FormatType    { return FormatPptx }
func (*ArchiveMetadata) FormatType() FormatType { return FormatArchive }
func (*ImageMetadata) FormatType() FormatType   { return FormatImage }
func (*XMLMetadata) FormatType() FormatType     { return FormatXML }
func (*TextMetadata) FormatType() FormatType    { return FormatText }
func (*HtmlMetadata) FormatType() FormatType    { return FormatHTML }
func (*OcrMetadata) FormatType() FormatType     { return FormatOCR }

// PageUnitType names what a "page" is for the format.
type PageUnitType string

const (
	UnitPage  PageUnitType = "page"
	UnitSlide PageUnitType = "slide"
	UnitSheet PageUnitType = "sheet"
)

// PageStructure maps content bytes to pages. Boundaries partition the content.
type PageStructure struct {
	TotalCount int            `json:"total_count"`
	UnitType   PageUnitType   `json:"unit_type"`
	Boundaries []PageBoundary `json:"boundaries"`
	Pages      []PageInfo     `json:"pages,omitempty"`
}

// PageBoundary is the half-open byte range [ByteStart, ByteEnd) of one page.
type PageBoundary struct {
	ByteStart  int `json:"byte_start"`
	ByteEnd    int `json:"byte_end"`
	PageNumber int `json:"page_number"`
}

type PageInfo struct {
	Number     int         `json:"number"`
	Title      string      `json:"title,omitempty"`
	Dimensions *[2]float64 `json:"dimensions,omitempty"`
	ImageCount *int        `json:"image_count,omitempty"`
	TableCount *int        `json:"table_count,omitempty"`
	Hidden     *bool       `json:"hidden,omitempty"`
}

// ImagePreprocessingMetadata records what preprocessing did to an OCR input.
type ImagePreprocessingMetadata struct {
	OriginalDimensions [2]int            `json:"original_dimensions"`
	OriginalDPI        [2]float64        `json:"original_dpi"`
	TargetDPI          int               `json:"target_dpi"`
	ScaleFactor        float64           `json:"scale_factor"`
	AutoAdjusted       bool              `json:"auto_adjusted"`
	FinalDPI           int               `json:"final_dpi"`
	NewDimensions      *[2]int           `json:"new_dimensions,omitempty"`
	ResampleMethod     string            `json:"resample_method"`
	DimensionClamped   bool              `json:"dimension_clamped"`
	CalculatedDPI      *int              `json:"calculated_dpi,omitempty"`
	SkippedResize      bool              `json:"skipped_resize"`
	ResizeError        string            `json:"resize_error,omitempty"`
	StepsApplied       []string          `json:"steps_applied,omitempty"`
	StepErrors         map[string]string `json:"step_errors,omitempty"`
	RotationDegrees    int               `json:"rotation_degrees,omitempty"`
	SkewAngle          float64           `json:"skew_angle,omitempty"`
	BinarizationMethod string            `json:"binarization_method,omitempty"`
}
