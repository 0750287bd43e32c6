// Package mimetype maps file extensions to media types and classifies
// which media types are worth compressing.
//
// The table is static. It covers the types a static web root actually
// contains; anything else is served without a Content-Type header rather
// than guessed.
package mimetype

import "strings"

// byExtension maps a lowercase extension (no dot) to its media type.
var byExtension = map[string]string{
	"html":  "text/html",
	"htm":   "text/html",
	"css":   "text/css",
	"js":    "application/javascript",
	"mjs":   "application/javascript",
	"json":  "application/json",
	"map":   "application/json",
	"xml":   "application/xml",
	"svg":   "image/svg+xml",
	"txt":   "text/plain",
	"md":    "text/markdown",
	"csv":   "text/csv",
	"wasm":  "application/wasm",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"webp":  "image/webp",
	"avif":  "image/avif",
	"ico":   "image/x-icon",
	"mp4":   "video/mp4",
	"webm":  "video/webm",
	"mp3":   "audio/mpeg",
	"ogg":   "audio/ogg",
	"wav":   "audio/wav",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
	"pdf":   "application/pdf",
	"zip":   "application/zip",
	"gz":    "application/gzip",
}

// TypeByExtension returns the media type for a lowercase extension without
// the leading dot. ok is false for unknown extensions; the caller then
// omits Content-Type entirely.
func TypeByExtension(ext string) (mediaType string, ok bool) {
	mediaType, ok = byExtension[ext]
	return mediaType, ok
}

// compressibleExact lists non-text types that compress well.
var compressibleExact = map[string]bool{
	"application/javascript": true,
	"application/json":       true,
	"application/xml":        true,
	"application/wasm":       true,
	"application/pdf":        false, // already deflate-packed internally
	"image/svg+xml":          true,
	"image/x-icon":           true,
}

// Compressible reports whether a media type benefits from wire
// compression. text/* always does; structured +json/+xml suffixes do;
// already-compressed containers (images, video, archives) never do.
func Compressible(mediaType string) bool {
	if mediaType == "" {
		return false
	}
	if strings.HasPrefix(mediaType, "text/") {
		return true
	}
	if v, ok := compressibleExact[mediaType]; ok {
		return v
	}
	return strings.HasSuffix(mediaType, "+json") || strings.HasSuffix(mediaType, "+xml")
}
