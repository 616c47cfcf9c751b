// Package documents validates uploaded audit documents and persists them as
// immutable blobs.
package documents

import (
	"mime"
	"net/http"
	"strings"
)

// DefaultMaxSize is the upload limit applied when none is configured.
const DefaultMaxSize int64 = 25 << 20

// Config holds intake limits.
type Config struct {
	MaxSize       int64
	AcceptedTypes []string
}

// Upload is a submitted document as received from the caller.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// Stored identifies a persisted document.
type Stored struct {
	Ref       string
	PageCount *int
}

// NormalizeMediaType strips parameters and lowercases declared. Missing or generic
// declarations fall back to content sniffing.
func NormalizeMediaType(declared string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return strings.ToLower(mt)
	}
	if len(data) == 0 {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
