package constants

import "strings"

// Document kinds recognised by content sniffing.
const (
	KindPDF  = "PDF"
	KindJPEG = "JPEG"
	KindPNG  = "PNG"
	KindZIP  = "ZIP"
)

// MIME types for the supported kinds.
const (
	MIMEPDF  = "application/pdf"
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEZIP  = "application/zip"
)

// AllowedExtensions holds the default allowed file extensions for invoice ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"zip":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsAllowedExt reports whether ext (with or without dot) is an ingestible extension.
func IsAllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// MIMEForExt maps a normalized extension to its MIME type, or "" when unsupported.
func MIMEForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return MIMEPDF
	case "jpg", "jpeg":
		return MIMEJPEG
	case "png":
		return MIMEPNG
	case "zip":
		return MIMEZIP
	}
	return ""
}

// ExportFormat selects the serialization of a task result.
type ExportFormat string

const (
	FormatCSV   ExportFormat = "csv"
	FormatExcel ExportFormat = "excel"
)

// ParseExportFormat accepts "csv", "excel" and the "xlsx" alias.
func ParseExportFormat(s string) (ExportFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, true
	case "excel", "xlsx":
		return FormatExcel, true
	}
	return "", false
}

// ContentType is the MIME type of the serialized export.
func (f ExportFormat) ContentType() string {
	if f == FormatExcel {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Ext is the file extension of the serialized export.
func (f ExportFormat) Ext() string {
	if f == FormatExcel {
		return "xlsx"
	}
	return "csv"
}

// MIMEForKind maps a sniffed kind to its MIME type.
func MIMEForKind(kind string) string {
	switch kind {
	case KindPDF:
		return MIMEPDF
	case KindJPEG:
		return MIMEJPEG
	case KindPNG:
		return MIMEPNG
	case KindZIP:
		return MIMEZIP
	}
	return ""
}
