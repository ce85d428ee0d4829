package upload

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"slices"
	"strings"
)

// DefaultMaxFileSize is the largest accepted file.
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// DefaultAllowedMimeTypes is the built-in allow-list.
var DefaultAllowedMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"video/mp4",
	"audio/mpeg",
	"application/pdf",
	"text/plain",
	"application/json",
}

var (
	// ErrFileTooLarge is returned for files above Policy.MaxFileSize.
	ErrFileTooLarge = errors.New("file size exceeds maximum limit")

	// ErrMimeTypeNotAllowed is returned for files whose type is not in
	// Policy.AllowedMimeTypes.
	ErrMimeTypeNotAllowed = errors.New("file type not supported")
)

// Policy decides which files may be ingested.
type Policy struct {
	// MaxFileSize in bytes. Zero or less disables the check.
	MaxFileSize int64 `mapstructure:"max_file_size" validate:"gte=0"`

	// AllowedMimeTypes is the allow-list. Empty allows every type.
	AllowedMimeTypes []string `mapstructure:"allowed_mime_types"`
}

// DefaultPolicy returns the built-in size limit and allow-list.
func DefaultPolicy() Policy {
	return Policy{
		MaxFileSize:      DefaultMaxFileSize,
		AllowedMimeTypes: slices.Clone(DefaultAllowedMimeTypes),
	}
}

// Check validates size and mime type.
func (p Policy) Check(size int64, mimeType string) error {
	if err := p.CheckSize(size); err != nil {
		return err
	}
	if len(p.AllowedMimeTypes) == 0 {
		return nil
	}
	if !slices.ContainsFunc(p.AllowedMimeTypes, func(allowed string) bool {
		return strings.EqualFold(allowed, mimeType)
	}) {
		return fmt.Errorf("%w: %q", ErrMimeTypeNotAllowed, mimeType)
	}
	return nil
}

// CheckSize validates size only. Used to reject oversized files before
// reading them.
func (p Policy) CheckSize(size int64) error {
	if p.MaxFileSize > 0 && size > p.MaxFileSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, size, p.MaxFileSize)
	}
	return nil
}

// DetectMimeType returns the media type of a file without parameters. The
// declared type wins unless it is empty or generic, in which case the type is
// sniffed from the content.
func DetectMimeType(declared string, data []byte) string {
	if mt := mediaType(declared); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	return mediaType(http.DetectContentType(data))
}

func mediaType(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}
