// Package store persists document jobs and their match results.
package store

import (
	"context"
	"errors"

	"plagiscan/internal/models"
)

var (
	// ErrNotFound is returned for an unknown document id.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicateJob is returned when a job already exists for the id.
	ErrDuplicateJob = errors.New("document already ingested")
	// ErrAlreadyTerminal is returned when a completed or failed job is written again.
	ErrAlreadyTerminal = errors.New("document already in a terminal state")
)

// Store holds the job lifecycle and the match results. Terminal writes are
// conditional on the job still processing, so each job ends exactly once and
// a job's result exists only while its status is completed.
type Store interface {
	// Create inserts job in the processing state and returns the stored record.
	Create(ctx context.Context, job models.Job) (models.Job, error)
	// MarkCompleted records the similarity and stores the result atomically.
	MarkCompleted(ctx context.Context, id string, similarity int, result models.MatchResult) error
	// MarkFailed records the failure reason.
	MarkFailed(ctx context.Context, id string, reason string) error
	Get(ctx context.Context, id string) (models.Job, error)
	GetResult(ctx context.Context, id string) (models.MatchResult, error)
	// Delete removes a job and its result.
	Delete(ctx context.Context, id string) error
	Close() error
}

func terminalConflict(exists bool) error {
	if exists {
		return ErrAlreadyTerminal
	}
	return ErrNotFound
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}
