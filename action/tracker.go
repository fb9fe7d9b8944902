package action

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/screwyprof/fundme/pkg/clock"
)

// ErrTrackerStopped is returned for submissions after shutdown began
var ErrTrackerStopped = errors.New("action tracker stopped")

// Default tracker settings
const (
	DefaultMaxConcurrent = 4
	DefaultRetention     = time.Hour
)

// State is the progress of a pending action
type State string

const (
	StateIdle       State = "idle"
	StateSubmitting State = "submitting"
	StateConfirmed  State = "confirmed"
	StateFailed     State = "failed"
)

// Terminal reports whether the action will not change any more
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Pending is one submitted action as seen by the API
type Pending struct {
	ID        uint64
	Kind      Kind
	Amount    *big.Int
	State     State
	TxHash    common.Hash
	Err       error
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TrackerOption configures the Tracker
type TrackerOption func(*Tracker)

// WithMaxConcurrent bounds how many transactions are in flight at once
func WithMaxConcurrent(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.maxConcurrent = n
		}
	}
}

// WithRetention sets how long finished actions stay queryable
func WithRetention(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.retention = d }
}

// WithTrackerClock injects a custom Clock
func WithTrackerClock(c clock.Clock) TrackerOption {
	return func(t *Tracker) { t.clock = c }
}

// Tracker runs validated commands in the background and keeps their
// progress queryable by id
type Tracker struct {
	ctx           context.Context
	submitter     *Submitter
	pool          pond.Pool
	actions       *xsync.Map[uint64, Pending]
	lastID        atomic.Uint64
	clock         clock.Clock
	maxConcurrent int
	retention     time.Duration
	feed          event.Feed
}

// NewTracker creates a Tracker whose background submissions live as long as ctx
func NewTracker(ctx context.Context, submitter *Submitter, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		ctx:           ctx,
		submitter:     submitter,
		actions:       xsync.NewMap[uint64, Pending](),
		clock:         clock.SystemClock{},
		maxConcurrent: DefaultMaxConcurrent,
		retention:     DefaultRetention,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.pool = pond.NewPool(t.maxConcurrent, pond.WithContext(ctx))
	return t
}

// Fund validates amount synchronously and queues the transaction
func (t *Tracker) Fund(amount string) (Pending, error) {
	if err := t.ctx.Err(); err != nil {
		return Pending{}, ErrTrackerStopped
	}
	cmd, err := t.submitter.PrepareFund(t.ctx, amount)
	if err != nil {
		return Pending{}, err
	}
	return t.enqueue(cmd), nil
}

// Withdraw checks for a session synchronously and queues the transaction
func (t *Tracker) Withdraw() (Pending, error) {
	if err := t.ctx.Err(); err != nil {
		return Pending{}, ErrTrackerStopped
	}
	cmd, err := t.submitter.PrepareWithdraw(t.ctx)
	if err != nil {
		return Pending{}, err
	}
	return t.enqueue(cmd), nil
}

// Get returns the action with id
func (t *Tracker) Get(id uint64) (Pending, bool) {
	return t.actions.Load(id)
}

// List returns every retained action, newest first
func (t *Tracker) List() []Pending {
	out := make([]Pending, 0, t.actions.Size())
	t.actions.Range(func(_ uint64, p Pending) bool {
		out = append(out, p)
		return true
	})
	slices.SortFunc(out, func(a, b Pending) int {
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// Subscribe delivers every state change to ch
func (t *Tracker) Subscribe(ch chan<- Pending) event.Subscription {
	return t.feed.Subscribe(ch)
}

// Stop waits for in-flight actions to finish. Cancel the tracker's
// context first to abort them.
func (t *Tracker) Stop() {
	t.pool.StopAndWait()
}

// enqueue records cmd as idle and hands it to the pool. When the pool no
// longer accepts work the action is returned already failed.
func (t *Tracker) enqueue(cmd Command) Pending {
	t.prune()

	now := t.clock.Now()
	p := Pending{
		ID:        t.lastID.Add(1),
		Kind:      cmd.Kind,
		Amount:    cmd.Amount,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.actions.Store(p.ID, p)
	t.feed.Send(p)

	err := t.pool.Go(func() {
		t.update(p.ID, func(p *Pending) { p.State = StateSubmitting })

		_, err := cmd.run(t.ctx, func(hash common.Hash) {
			t.update(p.ID, func(p *Pending) { p.TxHash = hash })
		})

		t.update(p.ID, func(p *Pending) {
			if err != nil {
				p.State = StateFailed
				p.Err = err
				return
			}
			p.State = StateConfirmed
		})
	})
	if err != nil {
		t.update(p.ID, func(p *Pending) {
			p.State = StateFailed
			p.Err = fmt.Errorf("%w: %w", ErrTrackerStopped, err)
		})
		p, _ = t.actions.Load(p.ID)
	}

	return p
}

func (t *Tracker) update(id uint64, change func(*Pending)) {
	next, ok := t.actions.Compute(id, func(old Pending, loaded bool) (Pending, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		change(&old)
		old.UpdatedAt = t.clock.Now()
		return old, xsync.UpdateOp
	})
	if ok {
		t.feed.Send(next)
	}
}

// prune drops finished actions older than the retention window
func (t *Tracker) prune() {
	if t.retention <= 0 {
		return
	}
	cutoff := t.clock.Now().Add(-t.retention)
	t.actions.Range(func(id uint64, p Pending) bool {
		if p.State.Terminal() && p.UpdatedAt.Before(cutoff) {
			t.actions.Delete(id)
		}
		return true
	})
}
