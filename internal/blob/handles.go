package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"coachdocs/internal/storage"
)

// DefaultDownloadMime is the media type assumed by CreateDownloadURL.
const DefaultDownloadMime = "application/pdf"

// ErrHandleNotFound is returned when a handle was never issued or was already released.
var ErrHandleNotFound = errors.New("resource handle not found")

// Handle is a short-lived reference to binary content. It stays valid until
// released by whoever created it.
type Handle struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType"`
	Size     int    `json:"size"`
}

// HandleStore creates and releases resource handles.
type HandleStore interface {
	Create(ctx context.Context, data []byte, mimeType string) (*Handle, error)
	Release(ctx context.Context, url string) error
}

// CreateDownloadURL decodes encoded and wraps it as a handle. On a malformed
// payload it returns a nil handle together with the cause so the caller can
// decide whether to log it; it never panics.
func CreateDownloadURL(ctx context.Context, hs HandleStore, encoded, mimeType string) (*Handle, error) {
	if mimeType == "" {
		mimeType = DefaultDownloadMime
	}
	data, err := DecodeToBytes(encoded)
	if err != nil {
		return nil, err
	}
	return hs.Create(ctx, data, mimeType)
}

type memoryEntry struct {
	data     []byte
	mimeType string
}

// MemoryHandles keeps handle content in process memory. URLs have the form
// "<base>/blobs/<token>" and are served by the HTTP layer through Open.
type MemoryHandles struct {
	base string

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryHandles returns an empty registry. base is the public URL prefix.
func NewMemoryHandles(base string) *MemoryHandles {
	return &MemoryHandles{
		base:    strings.TrimRight(base, "/"),
		entries: make(map[string]memoryEntry),
	}
}

var _ HandleStore = (*MemoryHandles)(nil)

// Create stores a private copy of data and returns its handle.
func (m *MemoryHandles) Create(_ context.Context, data []byte, mimeType string) (*Handle, error) {
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	token := uuid.NewString()
	m.mu.Lock()
	m.entries[token] = memoryEntry{data: bytes.Clone(data), mimeType: mimeType}
	m.mu.Unlock()
	return &Handle{URL: m.base + "/blobs/" + token, MimeType: mimeType, Size: len(data)}, nil
}

// Open returns the content behind token.
func (m *MemoryHandles) Open(token string) ([]byte, string, error) {
	m.mu.RLock()
	e, ok := m.entries[token]
	m.mu.RUnlock()
	if !ok {
		return nil, "", ErrHandleNotFound
	}
	return e.data, e.mimeType, nil
}

// Release drops the content behind url, which may be the full URL or the bare token.
func (m *MemoryHandles) Release(_ context.Context, url string) error {
	token := path.Base(url)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[token]; !ok {
		return ErrHandleNotFound
	}
	delete(m.entries, token)
	return nil
}

// Live returns the number of unreleased handles.
func (m *MemoryHandles) Live() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// ObjectHandles uploads handle content to object storage and hands out
// presigned GET URLs. Release removes the object, which also invalidates the URL
// before its expiry.
type ObjectHandles struct {
	store  storage.Storage
	expiry time.Duration

	mu   sync.Mutex
	keys map[string]string // url -> object key
}

// NewObjectHandles returns a HandleStore backed by store.
func NewObjectHandles(store storage.Storage, expiry time.Duration) *ObjectHandles {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &ObjectHandles{store: store, expiry: expiry, keys: make(map[string]string)}
}

var _ HandleStore = (*ObjectHandles)(nil)

// Create uploads data under handles/<uuid> and presigns it.
func (o *ObjectHandles) Create(ctx context.Context, data []byte, mimeType string) (*Handle, error) {
	if mimeType == "" {
		mimeType = DefaultMimeType
	}
	key := "handles/" + uuid.NewString()
	if _, err := o.store.Put(ctx, key, bytes.NewReader(data), storage.PutObjectOptions{
		Size:        int64(len(data)),
		ContentType: mimeType,
	}); err != nil {
		return nil, fmt.Errorf("upload handle content: %w", err)
	}
	u, err := o.store.PresignGet(ctx, key, o.expiry)
	if err != nil {
		if delErr := o.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("presign failed: %v; cleanup failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("presign handle: %w", err)
	}
	o.mu.Lock()
	o.keys[u] = key
	o.mu.Unlock()
	return &Handle{URL: u, MimeType: mimeType, Size: len(data)}, nil
}

// Release deletes the object behind url.
func (o *ObjectHandles) Release(ctx context.Context, url string) error {
	o.mu.Lock()
	key, ok := o.keys[url]
	o.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	if err := o.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete handle content: %w", err)
	}
	o.mu.Lock()
	delete(o.keys, url)
	o.mu.Unlock()
	return nil
}

// Live returns the number of unreleased handles.
func (o *ObjectHandles) Live() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.keys)
}
