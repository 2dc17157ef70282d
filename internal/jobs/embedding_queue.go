package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
)

// EntryRepository is the dictionary access the queue regenerates
// embeddings through.
type EntryRepository interface {
	ListByOrg(ctx context.Context, orgID string) ([]*domain.DictionaryEntry, error)
	ListByIDs(ctx context.Context, orgID string, ids []string) ([]*domain.DictionaryEntry, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

// Embedder generates the vector for one phrase.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// EmbeddingQueue regenerates dictionary embeddings in the background.
// Jobs live in an in-memory registry; enqueue returns a snapshot
// immediately and the batch runs on its own goroutine. A single failing
// entry is recorded on the job and never stops the batch.
type EmbeddingQueue struct {
	mu   sync.Mutex
	jobs map[string]*domain.EmbeddingJob

	repo     EntryRepository
	embedder Embedder
	uuidGen  UUIDGenerator

	ctx context.Context
	wg  sync.WaitGroup
}

func NewEmbeddingQueue(repo EntryRepository, embedder Embedder, uuidGen UUIDGenerator) *EmbeddingQueue {
	return &EmbeddingQueue{
		jobs:     make(map[string]*domain.EmbeddingJob),
		repo:     repo,
		embedder: embedder,
		uuidGen:  uuidGen,
		ctx:      context.Background(),
	}
}

// Start binds background batches to ctx.
func (q *EmbeddingQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx = ctx
}

// EnqueueOrganization starts a regeneration batch for an organization's
// dictionary. With entryIDs the batch covers only those entries,
// otherwise the whole dictionary. The returned snapshot reflects the
// queued job; progress is observed via GetJob.
func (q *EmbeddingQueue) EnqueueOrganization(ctx context.Context, orgID string, entryIDs []string) (*domain.EmbeddingJob, error) {
	var entries []*domain.DictionaryEntry
	var err error
	if len(entryIDs) > 0 {
		entries, err = q.repo.ListByIDs(ctx, orgID, entryIDs)
	} else {
		entries, err = q.repo.ListByOrg(ctx, orgID)
	}
	if err != nil {
		return nil, err
	}

	job := &domain.EmbeddingJob{
		ID:        q.uuidGen.NewString(),
		OrgID:     orgID,
		Status:    domain.EmbeddingJobStatusQueued,
		Total:     len(entries),
		CreatedAt: time.Now().UTC(),
	}
	for _, e := range entries {
		job.EntryIDs = append(job.EntryIDs, e.ID)
	}

	q.mu.Lock()
	q.jobs[job.ID] = job
	snapshot := job.Clone()
	q.mu.Unlock()

	q.wg.Add(1)
	go q.run(job.ID, entries)

	return snapshot, nil
}

// GetJob returns a snapshot of a job's progress, or
// ErrEmbeddingJobNotFound for unknown ids.
func (q *EmbeddingQueue) GetJob(id string) (*domain.EmbeddingJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return nil, domain.ErrEmbeddingJobNotFound
	}
	return job.Clone(), nil
}

func (q *EmbeddingQueue) run(jobID string, entries []*domain.DictionaryEntry) {
	defer q.wg.Done()

	q.setStatus(jobID, domain.EmbeddingJobStatusProcessing)

	for _, entry := range entries {
		if err := q.embedOne(entry); err != nil {
			log.Printf("embedding job %s: entry %s (%q): %v", jobID, entry.ID, entry.Phrase, err)
			q.recordFailure(jobID, entry, err)
		}
		q.advance(jobID)
	}

	q.setStatus(jobID, domain.EmbeddingJobStatusCompleted)
}

func (q *EmbeddingQueue) embedOne(entry *domain.DictionaryEntry) error {
	vec, err := q.embedder.GenerateEmbedding(q.ctx, entry.Phrase)
	if err != nil {
		return err
	}
	return q.repo.UpdateEmbedding(q.ctx, entry.ID, vec)
}

func (q *EmbeddingQueue) setStatus(jobID string, status domain.EmbeddingJobStatus) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[jobID]; ok {
		job.Status = status
	}
}

func (q *EmbeddingQueue) recordFailure(jobID string, entry *domain.DictionaryEntry, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[jobID]; ok {
		job.Failures = append(job.Failures, domain.EmbeddingFailure{
			EntryID: entry.ID,
			Phrase:  entry.Phrase,
			Error:   err.Error(),
		})
	}
}

// advance counts the entry as handled whether it embedded or failed.
func (q *EmbeddingQueue) advance(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job, ok := q.jobs[jobID]; ok {
		job.Processed++
	}
}

// Wait blocks until all in-flight batches finish.
func (q *EmbeddingQueue) Wait() {
	q.wg.Wait()
}
