package queue

import (
	"context"
	"log"
	"sync"

	"github.com/claimguard-jp/claimguard/internal/domain"
)

// Processor runs the screening pipeline for one admitted check.
type Processor interface {
	Process(ctx context.Context, checkID, text, orgID string, inputType domain.InputType) error
}

// QueueStatus is a point-in-time snapshot of the admission queue.
type QueueStatus struct {
	QueueLength     int `json:"queue_length"`
	ProcessingCount int `json:"processing_count"`
	MaxConcurrent   int `json:"max_concurrent"`
}

type queuedCheck struct {
	checkID   string
	text      string
	orgID     string
	inputType domain.InputType
}

// AdmissionQueue admits checks into the pipeline with a bounded number
// of concurrent workers. Checks beyond the bound wait in FIFO order;
// the pending queue itself is unbounded, so depth is logged for
// operators to watch.
type AdmissionQueue struct {
	mu         sync.Mutex
	pending    []*queuedCheck
	processing int
	gen        uint64

	maxConcurrent int
	processor     Processor

	ctx context.Context
	wg  sync.WaitGroup
}

func NewAdmissionQueue(maxConcurrent int, processor Processor) *AdmissionQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &AdmissionQueue{
		maxConcurrent: maxConcurrent,
		processor:     processor,
		ctx:           context.Background(),
	}
}

// Start binds the queue's workers to ctx. Checks admitted after ctx is
// cancelled fail their processing calls through the processor's own
// context handling.
func (q *AdmissionQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ctx = ctx
}

// Enqueue adds a check and starts it immediately if a worker slot is
// free. It never blocks.
func (q *AdmissionQueue) Enqueue(checkID, text, orgID string, inputType domain.InputType) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append(q.pending, &queuedCheck{
		checkID:   checkID,
		text:      text,
		orgID:     orgID,
		inputType: inputType,
	})
	if len(q.pending) > 1 || q.processing >= q.maxConcurrent {
		log.Printf("queue: check %s waiting, depth=%d processing=%d", checkID, len(q.pending), q.processing)
	}
	q.dispatchLocked()
}

// dispatchLocked moves pending checks into free worker slots. Caller
// must hold q.mu.
func (q *AdmissionQueue) dispatchLocked() {
	for q.processing < q.maxConcurrent && len(q.pending) > 0 {
		item := q.pending[0]
		q.pending = q.pending[1:]
		q.processing++
		q.wg.Add(1)
		go q.run(item, q.gen)
	}
}

func (q *AdmissionQueue) run(item *queuedCheck, gen uint64) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("queue: panic processing check %s: %v", item.checkID, r)
		}
		q.mu.Lock()
		// A Clear since this worker started already zeroed the
		// counters; its completion must not touch them again.
		if gen == q.gen {
			q.processing--
			q.dispatchLocked()
		}
		q.mu.Unlock()
	}()

	if err := q.processor.Process(q.ctx, item.checkID, item.text, item.orgID, item.inputType); err != nil {
		log.Printf("queue: check %s finished with error: %v", item.checkID, err)
	}
}

// Status reports queue depth and worker occupancy.
func (q *AdmissionQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		QueueLength:     len(q.pending),
		ProcessingCount: q.processing,
		MaxConcurrent:   q.maxConcurrent,
	}
}

// Remove drops a still-pending check from the queue. It reports false
// when the check is not waiting, including when it is already being
// processed.
func (q *AdmissionQueue) Remove(checkID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.pending {
		if item.checkID == checkID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Position returns the 1-based wait position of a pending check, or 0
// when the check is not waiting.
func (q *AdmissionQueue) Position(checkID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.pending {
		if item.checkID == checkID {
			return i + 1
		}
	}
	return 0
}

// Clear drops all pending checks and resets both counters to zero,
// returning how many pending checks were dropped. Workers already
// running keep going, but they no longer count against the concurrency
// bound and finishing does not re-dispatch.
func (q *AdmissionQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.pending)
	q.pending = nil
	q.processing = 0
	q.gen++
	return n
}

// Wait blocks until all in-flight checks have finished. Pending checks
// picked up during the wait are included.
func (q *AdmissionQueue) Wait() {
	q.wg.Wait()
}
