package repository

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel is the Postgres channel the checks trigger notifies on.
const NotifyChannel = "check_updates"

// CheckEvent is one status-change notification for a check.
type CheckEvent struct {
	CheckID string             `json:"check_id"`
	Status  domain.CheckStatus `json:"status"`
}

// CheckNotifier fans out Postgres LISTEN/NOTIFY status changes to
// per-check subscribers. It holds one dedicated connection and runs a
// background loop that waits for notifications and dispatches each to
// the subscribers of that check id.
type CheckNotifier struct {
	pool *pgxpool.Pool

	mu   sync.RWMutex
	subs map[string]map[chan CheckEvent]struct{} // check id -> subscriber channels
}

func NewCheckNotifier(pool *pgxpool.Pool) *CheckNotifier {
	return &CheckNotifier{
		pool: pool,
		subs: make(map[string]map[chan CheckEvent]struct{}),
	}
}

// Start begins listening. It blocks, so call it in a goroutine; it
// returns when ctx is cancelled.
func (n *CheckNotifier) Start(ctx context.Context) {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		log.Printf("notifier: acquire connection: %v", err)
		return
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		log.Printf("notifier: listen %s: %v", NotifyChannel, err)
		return
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("notifier: wait error, retrying: %v", err)
			continue
		}

		var event CheckEvent
		if err := json.Unmarshal([]byte(notification.Payload), &event); err != nil {
			log.Printf("notifier: bad payload %q: %v", notification.Payload, err)
			continue
		}
		n.dispatch(event)
	}
}

// Subscribe returns a channel receiving status changes for one check.
// The caller must call Unsubscribe when done.
func (n *CheckNotifier) Subscribe(checkID string) chan CheckEvent {
	ch := make(chan CheckEvent, 8) // buffered so a slow reader cannot stall dispatch
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs[checkID] == nil {
		n.subs[checkID] = make(map[chan CheckEvent]struct{})
	}
	n.subs[checkID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel. Safe to call
// more than once for the same channel.
func (n *CheckNotifier) Unsubscribe(checkID string, ch chan CheckEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.subs[checkID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(n.subs, checkID)
	}
	close(ch)
}

func (n *CheckNotifier) dispatch(event CheckEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.subs[event.CheckID] {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop the event for them. The
			// broker re-reads the persisted row on terminal paths, so
			// a dropped intermediate update is not lost state.
		}
	}
}
