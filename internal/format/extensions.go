package format

// extensionTypes maps lower-case file extensions (without the dot) to MIME types.
var extensionTypes = map[string]string{
	// plain text and markup
	"txt":        "text/plain",
	"text":       "text/plain",
	"log":        "text/plain",
	"ini":        "text/plain",
	"cfg":        "text/plain",
	"conf":       "text/plain",
	"properties": "text/plain",
	"md":         "text/markdown",
	"markdown":   "text/markdown",
	"mdown":      "text/markdown",
	"mkd":        "text/markdown",
	"mkdn":       "text/markdown",
	"mdx":        "text/markdown",
	"commonmark": "text/x-commonmark",
	"rst":        "text/x-rst",
	"org":        "text/x-org",
	"adoc":       "text/x-asciidoc",
	"asciidoc":   "text/x-asciidoc",
	"tex":        "application/x-latex",
	"latex":      "application/x-latex",
	"bib":        "application/x-bibtex",
	"typ":        "application/x-typst",
	"textile":    "text/x-textile",
	"wiki":       "text/x-mediawiki",
	"mediawiki":  "text/x-mediawiki",
	"creole":     "text/x-creole",
	"pod":        "text/x-pod",
	"rtf":        "application/rtf",

	// web
	"html":  "text/html",
	"htm":   "text/html",
	"shtml": "text/html",
	"xhtml": "application/xhtml+xml",
	"xht":   "application/xhtml+xml",
	"mhtml": "message/rfc822",
	"mht":   "message/rfc822",

	// structured data
	"json":    "application/json",
	"jsonl":   "application/x-ndjson",
	"ndjson":  "application/x-ndjson",
	"geojson": "application/geo+json",
	"yaml":    "application/x-yaml",
	"yml":     "application/x-yaml",
	"toml":    "application/toml",
	"csv":     "text/csv",
	"tsv":     "text/tab-separated-values",
	"tab":     "text/tab-separated-values",
	"xml":     "application/xml",
	"xsd":     "application/xml",
	"xsl":     "application/xml",
	"xslt":    "application/xml",
	"rss":     "application/rss+xml",
	"atom":    "application/atom+xml",
	"svg":     "image/svg+xml",
	"plist":   "application/xml",
	"dbk":     "application/docbook+xml",
	"docbook": "application/docbook+xml",
	"jats":    "application/x-jats+xml",
	"opml":    "text/x-opml",
	"fb2":     "application/x-fictionbook+xml",
	"ipynb":   "application/x-ipynb+json",

	// PDF
	"pdf": "application/pdf",

	// Office Open XML
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"docm": "application/vnd.ms-word.document.macroEnabled.12",
	"dotx": "application/vnd.openxmlformats-officedocument.wordprocessingml.template",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
	"xltx": "application/vnd.openxmlformats-officedocument.spreadsheetml.template",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"pptm": "application/vnd.ms-powerpoint.presentation.macroEnabled.12",
	"potx": "application/vnd.openxmlformats-officedocument.presentationml.template",
	"ppsx": "application/vnd.openxmlformats-officedocument.presentationml.slideshow",

	// legacy Office
	"doc": "application/msword",
	"dot": "application/msword",
	"xls": "application/vnd.ms-excel",
	"xlt": "application/vnd.ms-excel",
	"xla": "application/vnd.ms-excel",
	"ppt": "application/vnd.ms-powerpoint",
	"pps": "application/vnd.ms-powerpoint",
	"pot": "application/vnd.ms-powerpoint",

	// OpenDocument
	"odt": "application/vnd.oasis.opendocument.text",
	"ott": "application/vnd.oasis.opendocument.text-template",
	"ods": "application/vnd.oasis.opendocument.spreadsheet",
	"ots": "application/vnd.oasis.opendocument.spreadsheet-template",
	"odp": "application/vnd.oasis.opendocument.presentation",
	"otp": "application/vnd.oasis.opendocument.presentation-template",

	// other document formats
	"epub":    "application/epub+zip",
	"pages":   "application/x-iwork-pages-sffpages",
	"numbers": "application/x-iwork-numbers-sffnumbers",
	"key":     "application/x-iwork-keynote-sffkey",

	// email
	"eml":  "message/rfc822",
	"msg":  "application/vnd.ms-outlook",
	"mbox": "application/mbox",

	// archives
	"zip": "application/zip",
	"tar": "application/x-tar",
	"gz":  "application/gzip",
	"tgz": "application/gzip",
	"bz2": "application/x-bzip2",
	"xz":  "application/x-xz",
	"7z":  "application/x-7z-compressed",
	"rar": "application/vnd.rar",

	// images
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"jpe":  "image/jpeg",
	"jfif": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"dib":  "image/bmp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
	"jp2":  "image/jp2",
	"j2k":  "image/jp2",
	"jpx":  "image/jpx",
	"jpm":  "image/jpm",
	"pbm":  "image/x-portable-bitmap",
	"pgm":  "image/x-portable-graymap",
	"ppm":  "image/x-portable-pixmap",
	"pnm":  "image/x-portable-anymap",
	"ico":  "image/x-icon",
	"heic": "image/heic",
	"heif": "image/heif",
	"avif": "image/avif",
}
