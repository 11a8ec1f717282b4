package attachment

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// Previews hands out revocable local references to image attachments, the
// equivalent of a browser object URL. Each reference must be released once.
type Previews struct {
	mu      sync.Mutex
	entries map[string]previewEntry
}

type previewEntry struct {
	contentType string
	data        []byte
}

type Preview struct {
	URL      string
	store    *Previews
	released bool
	mu       sync.Mutex
}

func NewPreviews() *Previews {
	return &Previews{entries: make(map[string]previewEntry)}
}

// Build returns nil for non-image files; callers show a document icon instead.
func (p *Previews) Build(f *File) (*Preview, error) {
	if f == nil || !IsImageType(f.ContentType) {
		return nil, nil
	}
	if f.Body == nil {
		return nil, fmt.Errorf("%w: image has no content", ErrInvalidFile)
	}

	if _, err := f.Body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind preview: %w", err)
	}
	data, err := io.ReadAll(f.Body)
	if err != nil {
		return nil, fmt.Errorf("read preview: %w", err)
	}
	if _, err := f.Body.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind preview: %w", err)
	}

	url := "blob:" + uuid.NewString()
	p.mu.Lock()
	p.entries[url] = previewEntry{contentType: MediaType(f.ContentType), data: data}
	p.mu.Unlock()

	return &Preview{URL: url, store: p}, nil
}

// Lookup returns the bytes behind a live reference.
func (p *Previews) Lookup(url string) ([]byte, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[url]
	return entry.data, entry.contentType, ok
}

// Active reports how many references are still outstanding.
func (p *Previews) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Release revokes the reference. Later calls are no-ops and report false.
func (pv *Preview) Release() bool {
	if pv == nil {
		return false
	}
	pv.mu.Lock()
	defer pv.mu.Unlock()
	if pv.released {
		return false
	}
	pv.released = true

	pv.store.mu.Lock()
	delete(pv.store.entries, pv.URL)
	pv.store.mu.Unlock()
	return true
}

func (pv *Preview) Released() bool {
	pv.mu.Lock()
	defer pv.mu.Unlock()
	return pv.released
}
