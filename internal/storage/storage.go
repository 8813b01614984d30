package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
)

// Supported backends.
const (
	TypeMemory = "memory"
	TypeS3     = "s3"
)

// ObjectStorage keeps the serialized exports of completed tasks.
type ObjectStorage interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get returns common.ErrNotFound when key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New builds the configured backend.
func New(ctx context.Context, cfg Config) (ObjectStorage, error) {
	switch cfg.Type {
	case "", TypeMemory:
		return NewMemory(), nil
	case TypeS3:
		s, err := NewS3Storage(ctx, &cfg.S3)
		if err != nil {
			return nil, err
		}
		if cfg.S3.CreateBucket {
			if err := s.EnsureBucket(ctx); err != nil {
				return nil, err
			}
		}
		return s, nil
	}
	return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
}

// Config selects and configures a backend.
type Config struct {
	Type string
	S3   S3Config
}

// Memory is an in-process ObjectStorage.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, common.ErrNotFound)
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok, nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
