// Package notify is the transient notice stream shown to the user.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"

	"github.com/screwyprof/fundme/pkg/clock"
	"github.com/screwyprof/fundme/pkg/logger"
)

// Level is the severity of a notice
type Level string

const (
	Success Level = "success"
	Info    Level = "info"
	Warning Level = "warning"
	Error   Level = "error"
)

// DefaultCapacity is how many recent notices are kept
const DefaultCapacity = 50

// Notice is a single user-facing message
type Notice struct {
	ID      uint64    `json:"id"`
	Level   Level     `json:"level"`
	Topic   string    `json:"topic"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Option configures the Center
type Option func(*Center)

// WithCapacity sets how many notices Recent returns at most
func WithCapacity(n int) Option {
	return func(c *Center) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithClock injects a custom Clock (e.g., for testing)
func WithClock(cl clock.Clock) Option {
	return func(c *Center) { c.clock = cl }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Center) { c.log = l }
}

// Center stamps, logs, keeps and fans out notices
type Center struct {
	capacity int
	clock    clock.Clock
	log      *slog.Logger
	feed     event.Feed

	mu     sync.Mutex
	lastID uint64
	recent []Notice
}

func NewCenter(opts ...Option) *Center {
	c := &Center{
		capacity: DefaultCapacity,
		clock:    clock.SystemClock{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.Component(c.log, "notify")
	return c
}

// Notify assigns an id and timestamp to n, records it and publishes it
func (c *Center) Notify(ctx context.Context, n Notice) Notice {
	c.mu.Lock()
	c.lastID++
	n.ID = c.lastID
	n.At = c.clock.Now()
	if len(c.recent) == c.capacity {
		c.recent = slices.Delete(c.recent, 0, 1)
	}
	c.recent = append(c.recent, n)
	c.mu.Unlock()

	c.log.Log(ctx, slogLevel(n.Level), n.Message, slog.String("topic", n.Topic), slog.Uint64("id", n.ID))
	c.feed.Send(n)
	return n
}

// Recent returns the kept notices, oldest first
func (c *Center) Recent() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.recent)
}

// Subscribe delivers every following notice to ch
func (c *Center) Subscribe(ch chan<- Notice) event.Subscription {
	return c.feed.Subscribe(ch)
}

func slogLevel(l Level) slog.Level {
	switch l {
	case Warning:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
