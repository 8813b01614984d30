package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/joseph-ayodele/invoice-extractor/internal/common"
	"github.com/joseph-ayodele/invoice-extractor/internal/entity"
)

// TaskStore persists task snapshots, completed results and the invoice
// numbers seen by earlier tasks.
type TaskStore interface {
	SaveTask(ctx context.Context, task entity.Task) error
	GetTask(ctx context.Context, id string) (entity.Task, error)
	ListTasks(ctx context.Context) ([]entity.Task, error)
	// DeleteTask removes the task and its result.
	DeleteTask(ctx context.Context, id string) error

	SaveResult(ctx context.Context, res entity.TaskResult) error
	GetResult(ctx context.Context, taskID string) (entity.TaskResult, error)

	SeenInvoices(ctx context.Context, numbers []string) (map[string]string, error)
	RecordInvoices(ctx context.Context, taskID string, numbers []string) error

	Close() error
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, common.ErrNotFound)
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]entity.Task
	results  map[string]entity.TaskResult
	invoices map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]entity.Task),
		results:  make(map[string]entity.TaskResult),
		invoices: make(map[string]string),
	}
}

func (s *MemoryStore) SaveTask(_ context.Context, task entity.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (entity.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return entity.Task{}, notFound("task", id)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) ListTasks(_ context.Context) ([]entity.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	delete(s.results, id)
	return nil
}

func (s *MemoryStore) SaveResult(_ context.Context, res entity.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[res.TaskID] = res
	return nil
}

func (s *MemoryStore) GetResult(_ context.Context, taskID string) (entity.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[taskID]
	if !ok {
		return entity.TaskResult{}, notFound("result", taskID)
	}
	return r, nil
}

func (s *MemoryStore) SeenInvoices(_ context.Context, numbers []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string)
	for _, n := range numbers {
		n = normalizeInvoice(n)
		if id, ok := s.invoices[n]; ok {
			out[n] = id
		}
	}
	return out, nil
}

func (s *MemoryStore) RecordInvoices(_ context.Context, taskID string, numbers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range numbers {
		n = normalizeInvoice(n)
		if _, ok := s.invoices[n]; !ok && n != "" {
			s.invoices[n] = taskID
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func normalizeInvoice(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}
