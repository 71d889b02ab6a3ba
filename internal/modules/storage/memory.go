package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
}

var _ ObjectStorage = (*MemoryStorage)(nil)

// MemoryStorage keeps uploads in process and serves them over HTTP. It backs
// the "memory" storage driver.
type MemoryStorage struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStorage(baseURL string) *MemoryStorage {
	return &MemoryStorage{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		objects: make(map[string]memoryObject),
	}
}

func (s *MemoryStorage) Upload(ctx context.Context, object Object, progress ProgressFunc) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, newProgressReader(object.Body, object.Size, progress)); err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.objects[object.Key] = memoryObject{data: buf.Bytes(), contentType: object.ContentType}
	s.mu.Unlock()

	return s.baseURL + "/" + object.Key, nil
}

func (s *MemoryStorage) Get(key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	object, ok := s.objects[key]
	if !ok {
		return nil, "", ErrObjectNotFound
	}

	return object.data, object.contentType, nil
}

// ServeHTTP serves the object whose key is the last part of the request path
// after the base URL path.
func (s *MemoryStorage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	if idx := strings.Index(key, KeyPrefix); idx >= 0 {
		key = key[idx:]
	}

	data, contentType, err := s.Get(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
