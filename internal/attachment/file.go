// Package attachment validates, previews and uploads files that ride along with
// chat messages.
package attachment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

// MaxFileSize is the largest attachment accepted (10 MiB).
const MaxFileSize int64 = 10 << 20

var (
	ErrInvalidFile     = errors.New("invalid attachment")
	ErrFileTooLarge    = fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidFile, MaxFileSize)
	ErrUnsupportedType = fmt.Errorf("%w: unsupported file type", ErrInvalidFile)
)

var allowedTypes = map[string]string{
	"image/png":          ".png",
	"image/jpeg":         ".jpg",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"text/plain": ".txt",
}

// File is a candidate attachment. Body may be nil for validation-only use.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadSeeker
}

// Open reads a file from disk and sniffs its content type.
func Open(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return FromBytes(filepath.Base(path), "", data), nil
}

// FromBytes wraps in-memory content. An empty contentType is detected from the
// bytes.
func FromBytes(name string, contentType string, data []byte) *File {
	if strings.TrimSpace(contentType) == "" {
		contentType = DetectType(name, data)
	}
	return &File{
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	}
}

// DetectType sniffs data, falling back to the extension for formats whose
// magic bytes are ambiguous (docx is a zip container).
func DetectType(name string, data []byte) string {
	detected := MediaType(mimetype.Detect(data).String())
	if _, ok := allowedTypes[detected]; ok {
		return detected
	}
	if byExt := MediaType(mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))); byExt != "" {
		if _, ok := allowedTypes[byExt]; ok {
			return byExt
		}
	}
	return detected
}

// MediaType strips parameters such as charset and lowercases the type.
func MediaType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(contentType)
	}
	return strings.ToLower(mediaType)
}

func IsImageType(contentType string) bool {
	return strings.HasPrefix(MediaType(contentType), "image/")
}

// ValidateFile checks size and type. It performs no I/O.
func ValidateFile(f *File) error {
	if f == nil {
		return fmt.Errorf("%w: missing file", ErrInvalidFile)
	}
	if f.Size > MaxFileSize {
		return ErrFileTooLarge
	}
	if _, ok := allowedTypes[MediaType(f.ContentType)]; !ok {
		return ErrUnsupportedType
	}
	return nil
}

// Extension returns the canonical extension for an allowed type, or the one
// carried by the file name.
func Extension(f *File) string {
	if ext, ok := allowedTypes[MediaType(f.ContentType)]; ok {
		return ext
	}
	if ext := strings.ToLower(filepath.Ext(f.Name)); ext != "" {
		return ext
	}
	return ".bin"
}

// Describe builds the metadata embedded in the chat message.
func Describe(f *File) models.FileAttachment {
	return models.FileAttachment{
		FileName: f.Name,
		FileSize: f.Size,
		IsImage:  IsImageType(f.ContentType),
	}
}
