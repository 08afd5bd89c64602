// Package storagetesting provides an in-memory BlobStore for tests
package storagetesting

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
)

var ErrInjected = errors.New("injected storage failure")

// MemoryStore keeps blobs in a map. The Fail* hooks inject errors per call.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	FailPut    func(path string) bool
	FailCopy   func(srcPath, dstPath string) bool
	FailList   bool
	FailDelete bool

	Copies  int
	Deletes []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, path string, body io.Reader, size int64, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.FailPut != nil && m.FailPut(path) {
		return "", ErrInjected
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = data
	return m.PublicURL(path), nil
}

func (m *MemoryStore) Copy(ctx context.Context, srcPath, dstPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailCopy != nil && m.FailCopy(srcPath, dstPath) {
		return ErrInjected
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[srcPath]
	if !ok {
		return errors.New("no such object: " + srcPath)
	}
	m.objects[dstPath] = append([]byte(nil), data...)
	m.Copies++
	return nil
}

func (m *MemoryStore) PublicURL(path string) string {
	return "https://blobs.test/" + path
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if m.FailList {
		return nil, ErrInjected
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var paths []string
	for p := range m.objects {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (m *MemoryStore) DeleteMany(ctx context.Context, paths []string) error {
	if m.FailDelete {
		return ErrInjected
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		delete(m.objects, p)
		m.Deletes = append(m.Deletes, p)
	}
	return nil
}

// Has reports whether a blob exists at path
func (m *MemoryStore) Has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok
}

// Paths returns every stored path in sorted order. It ignores FailList.
func (m *MemoryStore) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
