package domain

import (
	"fmt"
	"time"
)

// EmbeddingJobStatus represents the status of a batch embedding job
type EmbeddingJobStatus string

const (
	EmbeddingJobStatusQueued     EmbeddingJobStatus = "queued"
	EmbeddingJobStatusProcessing EmbeddingJobStatus = "processing"
	EmbeddingJobStatusCompleted  EmbeddingJobStatus = "completed"
)

// EmbeddingFailure records one dictionary entry that failed during a
// batch run. Failures accumulate; they never abort the batch.
type EmbeddingFailure struct {
	EntryID string
	Phrase  string
	Error   string
}

// EmbeddingJob is the snapshot of a background dictionary re-embedding
// run. Readers only ever see copies; the running job mutates its own
// internally-synchronized record.
type EmbeddingJob struct {
	ID        string
	OrgID     string
	EntryIDs  []string // empty means the whole dictionary
	Status    EmbeddingJobStatus
	Total     int
	Processed int
	Failures  []EmbeddingFailure
	CreatedAt time.Time
}

// Clone returns a deep copy safe to hand to readers while the job is
// still running.
func (j *EmbeddingJob) Clone() *EmbeddingJob {
	c := *j
	c.EntryIDs = append([]string(nil), j.EntryIDs...)
	c.Failures = append([]EmbeddingFailure(nil), j.Failures...)
	return &c
}

// ValidateEmbeddingJob validates an EmbeddingJob instance
func ValidateEmbeddingJob(j *EmbeddingJob) error {
	if j == nil {
		return fmt.Errorf("embedding job cannot be nil")
	}
	if j.ID == "" {
		return fmt.Errorf("embedding job ID is required")
	}
	if j.OrgID == "" {
		return fmt.Errorf("embedding job OrgID is required")
	}
	if !isValidEmbeddingJobStatus(j.Status) {
		return fmt.Errorf("embedding job Status is invalid: %s", j.Status)
	}
	if j.Processed > j.Total {
		return fmt.Errorf("embedding job Processed (%d) exceeds Total (%d)", j.Processed, j.Total)
	}
	return nil
}

func isValidEmbeddingJobStatus(s EmbeddingJobStatus) bool {
	switch s {
	case EmbeddingJobStatusQueued, EmbeddingJobStatusProcessing, EmbeddingJobStatusCompleted:
		return true
	}
	return false
}
