package stream

import (
	"context"
	"time"

	"github.com/claimguard-jp/claimguard/internal/domain"
	"github.com/claimguard-jp/claimguard/internal/repository"
)

// Callbacks receive the event sequence for one check subscription.
// OnHeartbeat carries the 1-based beat number.
type Callbacks struct {
	OnUpdate    func(check *domain.Check)
	OnComplete  func(check *domain.Check, violations []*domain.Violation)
	OnError     func(err error)
	OnHeartbeat func(beat int)
}

// CheckReader loads check state for the broker's snapshots.
type CheckReader interface {
	GetByID(ctx context.Context, id string) (*domain.Check, error)
}

// ViolationReader loads the violations attached to a completed check.
type ViolationReader interface {
	ListByCheck(ctx context.Context, checkID string) ([]*domain.Violation, error)
}

// UserReader resolves the subscribing user for the access check.
type UserReader interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
}

// Notifier yields a change event stream for one check.
type Notifier interface {
	Subscribe(checkID string) chan repository.CheckEvent
	Unsubscribe(checkID string, ch chan repository.CheckEvent)
}

// Timeouts holds the per-subscription timer configuration. Image input
// gets longer windows because OCR extends the pipeline.
type Timeouts struct {
	TextProgress    time.Duration
	ImageProgress   time.Duration
	TextConnection  time.Duration
	ImageConnection time.Duration

	HeartbeatInterval time.Duration
	// StalledHeartbeatInterval applies after the progress timer fires
	// without a status change.
	StalledHeartbeatInterval time.Duration
	MaxHeartbeats            int
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		TextProgress:             20 * time.Second,
		ImageProgress:            45 * time.Second,
		TextConnection:           60 * time.Second,
		ImageConnection:          120 * time.Second,
		HeartbeatInterval:        10 * time.Second,
		StalledHeartbeatInterval: 3 * time.Second,
		MaxHeartbeats:            30,
	}
}

// Broker delivers one check's lifecycle to a subscribed caller. Each
// subscription owns its timers; concurrent subscriptions never share
// state.
type Broker struct {
	checks     CheckReader
	violations ViolationReader
	users      UserReader
	notifier   Notifier
	timeouts   Timeouts
}

func NewBroker(checks CheckReader, violations ViolationReader, users UserReader, notifier Notifier, timeouts Timeouts) *Broker {
	return &Broker{
		checks:     checks,
		violations: violations,
		users:      users,
		notifier:   notifier,
		timeouts:   timeouts,
	}
}

// Open subscribes userID to checkID's updates and blocks until the
// subscription reaches a terminal state or ctx is cancelled. Every
// outcome is reported through cb; the return is when the caller can
// release the connection. Teardown runs on every exit path.
func (b *Broker) Open(ctx context.Context, checkID, userID string, cb Callbacks) {
	check, err := b.checks.GetByID(ctx, checkID)
	if err != nil {
		cb.OnError(err)
		return
	}

	user, err := b.users.GetByID(ctx, userID)
	if err != nil {
		cb.OnError(err)
		return
	}
	if !user.CanViewCheck(check) {
		cb.OnError(domain.ErrCheckAccessDenied)
		return
	}

	if check.Status.IsTerminal() {
		b.deliverTerminal(ctx, check, cb)
		return
	}

	events := b.notifier.Subscribe(checkID)
	defer b.notifier.Unsubscribe(checkID, events)

	// The check can reach a terminal state between the snapshot above
	// and the subscription; that notification is already gone, so read
	// the store once more before waiting.
	check, err = b.checks.GetByID(ctx, checkID)
	if err != nil {
		cb.OnError(err)
		return
	}
	if check.Status.IsTerminal() {
		b.deliverTerminal(ctx, check, cb)
		return
	}

	progressWindow := b.timeouts.TextProgress
	connectionWindow := b.timeouts.TextConnection
	if check.InputType == domain.InputTypeImage {
		progressWindow = b.timeouts.ImageProgress
		connectionWindow = b.timeouts.ImageConnection
	}

	progressTimer := time.NewTimer(progressWindow)
	defer progressTimer.Stop()
	connectionTimer := time.NewTimer(connectionWindow)
	defer connectionTimer.Stop()
	heartbeat := time.NewTicker(b.timeouts.HeartbeatInterval)
	defer heartbeat.Stop()

	beats := 0
	for {
		select {
		case <-ctx.Done():
			return

		case <-events:
			// The notification only says something changed; the
			// snapshot comes from the store.
			check, err = b.checks.GetByID(ctx, checkID)
			if err != nil {
				cb.OnError(err)
				return
			}
			if check.Status.IsTerminal() {
				b.deliverTerminal(ctx, check, cb)
				return
			}
			cb.OnUpdate(check)
			if !progressTimer.Stop() {
				select {
				case <-progressTimer.C:
				default:
				}
			}
			progressTimer.Reset(progressWindow)

		case <-progressTimer.C:
			// Progress stalled: keep the connection warm with faster
			// heartbeats instead of giving up early.
			heartbeat.Reset(b.timeouts.StalledHeartbeatInterval)

		case <-connectionTimer.C:
			check, err = b.checks.GetByID(ctx, checkID)
			if err == nil && check.Status.IsTerminal() {
				b.deliverTerminal(ctx, check, cb)
				return
			}
			cb.OnError(domain.ErrStreamTimeout)
			return

		case <-heartbeat.C:
			if beats >= b.timeouts.MaxHeartbeats {
				heartbeat.Stop()
				continue
			}
			beats++
			cb.OnHeartbeat(beats)
		}
	}
}

// deliverTerminal pushes the final snapshot. A failed check surfaces
// through OnError so clients distinguish it from a clean completion.
func (b *Broker) deliverTerminal(ctx context.Context, check *domain.Check, cb Callbacks) {
	if check.Status == domain.CheckStatusFailed {
		msg := "check failed"
		if check.ErrorMessage != nil {
			msg = *check.ErrorMessage
		}
		cb.OnError(domain.NewDomainError(domain.ErrCodeCapability, msg))
		return
	}

	violations, err := b.violations.ListByCheck(ctx, check.ID)
	if err != nil {
		cb.OnError(err)
		return
	}
	cb.OnComplete(check, violations)
}
