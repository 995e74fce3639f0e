package uploads

import (
	"path/filepath"
	"strings"
)

// passThrough lists MIME types served as uploaded. Anything else sent to
// the file endpoint is zipped.
var passThrough = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},

	"video/mp4":        {},
	"video/webm":       {},
	"video/3gpp":       {},
	"video/avi":        {},
	"video/x-flv":      {},
	"video/x-matroska": {},
	"video/quicktime":  {},

	"audio/mpeg":  {},
	"audio/ogg":   {},
	"audio/aac":   {},
	"audio/x-m4a": {},
	"audio/mp4":   {},
	"audio/amr":   {},

	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
	"application/vnd.ms-powerpoint":                                             {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},

	"text/plain":       {},
	"text/csv":         {},
	"application/json": {},
	"text/html":        {},
	"application/xml":  {},
}

// IsPassThrough reports whether mimeType is kept as-is by the file endpoint.
// Parameters such as "; charset=utf-8" are ignored.
func IsPassThrough(mimeType string) bool {
	_, ok := passThrough[baseMime(mimeType)]
	return ok
}

func baseMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// majorType returns "image" for "image/png".
func majorType(mimeType string) string {
	major, _, _ := strings.Cut(baseMime(mimeType), "/")
	return major
}

// extSubtype is the extension of name without the dot, or "unknown".
func extSubtype(name string) string {
	if ext := strings.TrimPrefix(filepath.Ext(name), "."); ext != "" {
		return ext
	}
	return "unknown"
}
