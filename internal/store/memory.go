package store

import (
	"context"
	"sync"
	"time"

	"plagiscan/internal/models"
)

// Memory is a process-local Store.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[string]models.Job
	results map[string]models.MatchResult
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]models.Job),
		results: make(map[string]models.MatchResult),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Create(_ context.Context, job models.Job) (models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return models.Job{}, ErrDuplicateJob
	}
	now := m.now()
	job.Status = models.StatusProcessing
	job.Similarity = nil
	job.Error = nil
	if job.UploadedAt.IsZero() {
		job.UploadedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.ID] = job
	return job, nil
}

func (m *Memory) MarkCompleted(_ context.Context, id string, similarity int, result models.MatchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Terminal() {
		return terminalConflict(ok)
	}
	job.Status = models.StatusCompleted
	job.Similarity = intPtr(similarity)
	job.UpdatedAt = m.now()
	result.DocumentID = id
	m.jobs[id] = job
	m.results[id] = result.Clone()
	return nil
}

func (m *Memory) MarkFailed(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.Terminal() {
		return terminalConflict(ok)
	}
	job.Status = models.StatusFailed
	job.Error = strPtr(reason)
	job.UpdatedAt = m.now()
	m.jobs[id] = job
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job, nil
}

func (m *Memory) GetResult(_ context.Context, id string) (models.MatchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[id]
	if !ok {
		return models.MatchResult{}, ErrNotFound
	}
	return res.Clone(), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	delete(m.results, id)
	return nil
}

func (m *Memory) Close() error {
	return nil
}
