// Package upload validates media files and writes them to object storage.
package upload

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxFileSize caps a single upload at 50 MiB.
const MaxFileSize = 50 << 20

// allowedTypes lists the accepted media MIME types. Anything else is
// rejected before touching storage.
var allowedTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/jpg":       {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"video/mp4":       {},
	"video/webm":      {},
	"video/ogg":       {},
	"video/quicktime": {},
}

// ValidateFile checks size and content type; the returned error is safe to
// echo back to the uploader.
func ValidateFile(name, contentType string, size int64) error {
	if size > MaxFileSize {
		return fmt.Errorf("file %s exceeds maximum size of 50MB", name)
	}
	if _, ok := allowedTypes[contentType]; !ok {
		return fmt.Errorf("file %s has unsupported type %s", name, contentType)
	}
	return nil
}

var (
	spacesAndCommas = regexp.MustCompile(`[,\s]+`)
	unsafeChars     = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	repeatedSep     = regexp.MustCompile(`_{2,}`)
	edgeSep         = regexp.MustCompile(`^_+|_+$`)
)

// SanitizeFileName normalizes a user-supplied file name into a key-safe
// form: whitespace and commas become underscores, anything outside
// [a-zA-Z0-9._-] is stripped, runs of underscores collapse, and leading or
// trailing underscores are trimmed.
func SanitizeFileName(name string) string {
	s := spacesAndCommas.ReplaceAllString(name, "_")
	s = unsafeChars.ReplaceAllString(s, "")
	s = repeatedSep.ReplaceAllString(s, "_")
	s = edgeSep.ReplaceAllString(s, "")
	if s == "" {
		s = "file"
	}
	return s
}

// ObjectKey builds the storage key for a file uploaded at the given unix
// millisecond timestamp.
func ObjectKey(prefix string, unixMillis int64, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%d-%s", unixMillis, SanitizeFileName(name))
	}
	return fmt.Sprintf("%s/%d-%s", prefix, unixMillis, SanitizeFileName(name))
}
