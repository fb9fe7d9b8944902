// Package roster keeps an eventually consistent list of the contract's
// funders by polling it on a fixed interval.
package roster

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/screwyprof/fundme/pkg/clock"
)

var errNoAmount = errors.New("no amount returned")

// Option configures the Service
// ------------------------------------------------
type Option func(*Service)

// WithClock injects a custom Clock (e.g., for testing)
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPollInterval sets the polling interval
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) { s.pollInterval = d }
}

// WithEnumerator replaces the default LinearProbe
func WithEnumerator(e Enumerator) Option {
	return func(s *Service) { s.enumerator = e }
}

// WithReadConcurrency bounds the parallel amount reads of one tick
func WithReadConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.readConcurrency = n
		}
	}
}

// WithArchive restores the newest snapshot of contract from store before
// the first tick and saves every new snapshot to it
func WithArchive(store Store, contract common.Address) Option {
	return func(s *Service) {
		s.store = store
		s.contract = contract
	}
}

// Service polls the funder list. Ticks run one at a time on a single
// goroutine; refresh requests made during a tick collapse into one
// follow-up tick.
// -----------------------------------------------------------------
type Service struct {
	source          Source
	enumerator      Enumerator
	clock           clock.Clock
	pollInterval    time.Duration
	readConcurrency int
	store           Store
	contract        common.Address
	events          chan Event
	refresh         chan struct{}
	results         event.Feed

	mu     sync.RWMutex
	latest Result
}

// NewService constructs a Service reading from whatever handle source returns
// ---------------------------------------------------------------------
// By default, it uses a real clock, a 30s poll interval and a LinearProbe.
func NewService(source Source, opts ...Option) *Service {
	s := &Service{
		source:          source,
		enumerator:      LinearProbe{},
		clock:           clock.SystemClock{},
		pollInterval:    DefaultPollInterval,
		readConcurrency: DefaultReadConcurrency,
		events:          make(chan Event, 10),
		refresh:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the poll loop and returns the events channel and done channel.
// The first tick runs immediately.
//
// Shutdown pattern:
//  1. Cancel context to request shutdown: cancel()
//  2. Service emits PollingShutdown and closes events channel
//  3. Wait for complete shutdown: <-done
//
// The events channel must be drained, e.g. with NewSubscriber.
func (s *Service) Start(ctx context.Context) (<-chan Event, <-chan struct{}) {
	done := make(chan struct{})
	go func() {
		defer close(s.events)
		defer close(done)
		s.run(ctx)
	}()
	return s.events, done
}

// Refresh asks for a tick as soon as the current one, if any, ends
func (s *Service) Refresh() {
	select {
	case s.refresh <- struct{}{}:
	default:
	}
}

// Latest returns the current result
func (s *Service) Latest() Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// SubscribeResults delivers every new Result to ch
func (s *Service) SubscribeResults(ch chan<- Result) event.Subscription {
	return s.results.Subscribe(ch)
}

func (s *Service) run(ctx context.Context) {
	pool := pond.NewPool(s.readConcurrency)
	defer pool.StopAndWait()

	s.restore(ctx)

	s.events <- PollingStarted{Interval: s.pollInterval}
	for {
		if ctx.Err() != nil {
			s.events <- PollingShutdown{Reason: ctx.Err()}
			return
		}

		s.tick(ctx, pool)

		select {
		case <-ctx.Done():
		case <-s.refresh:
		case <-s.clock.After(s.pollInterval):
		}
	}
}

// tick reads the whole roster once
func (s *Service) tick(ctx context.Context, pool pond.Pool) {
	started := s.clock.Now()

	reader, ok := s.source()
	if !ok {
		s.fail(ErrNoContract, started)
		s.events <- PollingIdle{Reason: ErrNoContract}
		return
	}

	addrs, err := s.enumerator.Enumerate(ctx, reader)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.fail(err, started)
		s.events <- PollingError{Err: err}
		return
	}

	contributors, skipped, ok := s.readAmounts(ctx, pool, reader, addrs)
	if !ok {
		return
	}

	snap := Snapshot{
		Contract:     reader.Address(),
		Contributors: contributors,
		FetchedAt:    started,
		Skipped:      skipped,
	}
	s.succeed(snap)
	s.events <- SnapshotProduced{Snapshot: snap, Duration: s.clock.Now().Sub(started)}

	s.archive(ctx, snap)
}

// readAmounts fetches every amount in parallel, keeping enumeration order.
// Failed addresses are reported and skipped; ok is false when ctx ended.
func (s *Service) readAmounts(ctx context.Context, pool pond.Pool, r Reader, addrs []common.Address) ([]Contributor, int, bool) {
	amounts := make([]*big.Int, len(addrs))
	errs := make([]error, len(addrs))

	group := pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, addr := range addrs {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			amounts[i], errs[i] = r.AmountFunded(groupCtx, addr)
		})
	}
	_ = group.Wait()

	if ctx.Err() != nil {
		return nil, 0, false
	}

	contributors := make([]Contributor, 0, len(addrs))
	skipped := 0
	for i, addr := range addrs {
		err := errs[i]
		if err == nil && amounts[i] == nil {
			err = errNoAmount
		}
		if err != nil {
			skipped++
			s.events <- AddressSkipped{Address: addr, Err: fmt.Errorf("%w: %s: %w", ErrAmountFetch, addr.Hex(), err)}
			continue
		}
		contributors = append(contributors, Contributor{Address: addr, Amount: amounts[i]})
	}
	return contributors, skipped, true
}

func (s *Service) restore(ctx context.Context) {
	if s.store == nil {
		return
	}

	snap, found, err := s.store.LatestSnapshot(ctx, s.contract)
	if err != nil {
		s.events <- ArchiveError{Err: fmt.Errorf("%w: %w", ErrArchiveLoad, err)}
		return
	}
	if !found {
		return
	}

	snap.Restored = true
	s.mu.Lock()
	s.latest = Result{Data: &snap, LastUpdated: snap.FetchedAt}
	r := s.latest
	s.mu.Unlock()

	s.results.Send(r)
	s.events <- SnapshotRestored{Snapshot: snap}
}

func (s *Service) archive(ctx context.Context, snap Snapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		s.events <- ArchiveError{Err: fmt.Errorf("%w: %w", ErrArchiveSave, err)}
	}
}

func (s *Service) succeed(snap Snapshot) {
	s.mu.Lock()
	s.latest = Result{Data: &snap, LastUpdated: snap.FetchedAt, LastAttempt: snap.FetchedAt}
	r := s.latest
	s.mu.Unlock()

	s.results.Send(r)
}

// fail records err for the tick at attempt and keeps the previous snapshot
func (s *Service) fail(err error, attempt time.Time) {
	s.mu.Lock()
	r := s.latest
	r.Err = err
	r.LastAttempt = attempt
	s.latest = r
	s.mu.Unlock()

	s.results.Send(r)
}
