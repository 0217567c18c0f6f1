// Package health classifies fish images as healthy or sick and records the
// results on the health stream.
package health

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"limix_backend/apperr"
)

// Stage errors. Callers classify them with errors.Is against the apperr kinds.
var (
	ErrMissingInput      = fmt.Errorf("%w: no image provided", apperr.ErrInput)
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported image format (accepted: jpg, jpeg, png)", apperr.ErrInput)
	ErrDecode            = fmt.Errorf("%w: image could not be decoded", apperr.ErrInput)
	ErrScoring           = fmt.Errorf("%w: scoring failed", apperr.ErrDependency)
	ErrPersist           = fmt.Errorf("%w: failed to store health result", apperr.ErrDependency)
)

var acceptedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

var acceptedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// ImageSource is either a file path or an open byte stream
type ImageSource struct {
	Path        string
	Name        string
	ContentType string
	Reader      io.Reader
}

// FromPath creates a source reading from a local file
func FromPath(path string) ImageSource {
	return ImageSource{Path: path, Name: filepath.Base(path)}
}

// FromReader creates a source for an uploaded stream. An upload without a
// filename gets a generated one.
func FromReader(name, contentType string, r io.Reader) ImageSource {
	if name == "" {
		name = "upload-" + uuid.NewString()
	}
	return ImageSource{Name: name, ContentType: contentType, Reader: r}
}

// Identifier is the provenance recorded with the result
func (s ImageSource) Identifier() string {
	if s.Path != "" {
		return s.Path
	}
	return s.Name
}

// Validate checks that an image is present and in an accepted format. The
// filename extension decides when there is one, the content type otherwise.
func Validate(src ImageSource) error {
	if src.Path == "" && src.Reader == nil {
		return ErrMissingInput
	}
	if src.Path != "" && src.Reader == nil {
		info, err := os.Stat(src.Path)
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", ErrMissingInput, src.Path)
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMissingInput, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrMissingInput, src.Path)
		}
	}

	name := src.Name
	if src.Path != "" {
		name = src.Path
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if !acceptedExtensions[ext] {
			return fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
		}
		return nil
	}

	mediaType, _, err := mime.ParseMediaType(src.ContentType)
	if err != nil || !acceptedContentTypes[mediaType] {
		return fmt.Errorf("%w: content type %q", ErrUnsupportedFormat, src.ContentType)
	}
	return nil
}

func (s ImageSource) open() (io.ReadCloser, error) {
	if s.Reader != nil {
		return io.NopCloser(s.Reader), nil
	}
	return os.Open(s.Path)
}
