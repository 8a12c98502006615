// Package ticketnumber assigns ticket numbers. A number handed out by a generator is never
// handed out again, even when the ticket it was drawn for is never stored.
package ticketnumber

import (
	"context"
	"fmt"
	"time"
)

// Generator produces the next ticket number.
type Generator interface {
	Name() string
	Next(ctx context.Context, store CounterStore) (string, error)
	// Retryable reports whether a duplicate number is expected and the caller should draw again.
	Retryable() bool
}

// CounterStore hands out monotonically increasing counters per key.
type CounterStore interface {
	// Add increments the counter stored under key by offset (>= 1) and returns the new value.
	Add(ctx context.Context, key string, offset int64) (int64, error)
}

// Clock returns the current time. Generators use it for date scoped counters.
type Clock func() time.Time

// Options configure a generator.
type Options struct {
	SystemID       string
	MinCounterSize int
	Clock          Clock
	Seed           int64
}

// Option mutates Options.
type Option func(*Options)

func WithClock(c Clock) Option {
	return func(o *Options) { o.Clock = c }
}

func WithMinCounterSize(n int) Option {
	return func(o *Options) { o.MinCounterSize = n }
}

// WithSeed makes the Random generator deterministic.
func WithSeed(seed int64) Option {
	return func(o *Options) { o.Seed = seed }
}

func (o Options) counterSize() int {
	if o.MinCounterSize <= 0 {
		return 5
	}
	return o.MinCounterSize
}

func (o Options) now() time.Time {
	if o.Clock == nil {
		return time.Now().UTC()
	}
	return o.Clock().UTC()
}

// globalKey is the counter shared by non date based generators.
func (o Options) globalKey() string {
	return o.SystemID
}

// dayKey scopes a counter to the calendar day of t.
func (o Options) dayKey(t time.Time) string {
	return fmt.Sprintf("%s_%04d%02d%02d", o.SystemID, t.Year(), int(t.Month()), t.Day())
}
