package attachment

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/yuhueng/petbnb-pwa-sub001/internal/models"
)

// ObjectStore is the slice of object storage the uploader needs.
type ObjectStore interface {
	UploadFile(ctx context.Context, body io.Reader, size int64, contentType string, filename string, folder string) (string, error)
}

type Uploaded struct {
	URL      string                `json:"url"`
	Metadata models.FileAttachment `json:"metadata"`
}

// StorageUploader puts validated files under a per-scope folder.
type StorageUploader struct {
	store  ObjectStore
	prefix string
}

func NewStorageUploader(store ObjectStore, prefix string) *StorageUploader {
	return &StorageUploader{store: store, prefix: strings.Trim(prefix, "/")}
}

func (u *StorageUploader) Upload(ctx context.Context, f *File, scopeID int64) (*Uploaded, error) {
	if err := ValidateFile(f); err != nil {
		return nil, err
	}
	if f.Body == nil {
		return nil, fmt.Errorf("%w: file has no content", ErrInvalidFile)
	}
	if _, err := f.Body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind upload: %w", err)
	}

	folder := fmt.Sprintf("%s/%d", u.prefix, scopeID)
	url, err := u.store.UploadFile(ctx, f.Body, f.Size, MediaType(f.ContentType), NewObjectName(f), folder)
	if err != nil {
		return nil, fmt.Errorf("upload attachment: %w", err)
	}

	return &Uploaded{URL: url, Metadata: Describe(f)}, nil
}

var (
	entropyOnce sync.Once
	entropyMu   sync.Mutex
	entropy     *ulid.MonotonicEntropy
)

// NewObjectName returns a time-sortable unique object name with the file's
// canonical extension.
func NewObjectName(f *File) string {
	entropyOnce.Do(func() {
		entropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	})
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	entropyMu.Unlock()
	return strings.ToLower(id.String()) + Extension(f)
}
