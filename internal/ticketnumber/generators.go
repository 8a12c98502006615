package ticketnumber

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand"
	"strconv"
	"sync"
)

// Increment renders SystemID, a literal 0 and the zero padded global counter.
type Increment struct{ opts Options }

func (g *Increment) Name() string    { return "Increment" }
func (g *Increment) Retryable() bool { return false }

func (g *Increment) Next(ctx context.Context, store CounterStore) (string, error) {
	c, err := store.Add(ctx, g.opts.globalKey(), 1)
	if err != nil {
		return "", fmt.Errorf("increment counter: %w", err)
	}
	return fmt.Sprintf("%s0%0*d", g.opts.SystemID, g.opts.counterSize(), c), nil
}

// Date renders yyyymmdd, SystemID and the padded daily counter.
type Date struct{ opts Options }

func (g *Date) Name() string    { return "Date" }
func (g *Date) Retryable() bool { return false }

func (g *Date) Next(ctx context.Context, store CounterStore) (string, error) {
	now := g.opts.now()
	c, err := store.Add(ctx, g.opts.dayKey(now), 1)
	if err != nil {
		return "", fmt.Errorf("date counter: %w", err)
	}
	return fmt.Sprintf("%s%s%0*d", now.Format("20060102"), g.opts.SystemID, g.opts.counterSize(), c), nil
}

// DateChecksum is Date followed by a single check digit.
type DateChecksum struct{ opts Options }

func (g *DateChecksum) Name() string    { return "DateChecksum" }
func (g *DateChecksum) Retryable() bool { return false }

func (g *DateChecksum) Next(ctx context.Context, store CounterStore) (string, error) {
	now := g.opts.now()
	c, err := store.Add(ctx, g.opts.dayKey(now), 1)
	if err != nil {
		return "", fmt.Errorf("date checksum counter: %w", err)
	}
	body := fmt.Sprintf("%s%s%0*d", now.Format("20060102"), g.opts.SystemID, g.opts.counterSize(), c)
	return body + strconv.Itoa(checkDigit(body)), nil
}

// checkDigit weights the digits 1,2,1,2... and returns 10 - sum%10, with 10 mapped to 1.
func checkDigit(s string) int {
	sum := 0
	for i := 0; i < len(s); i++ {
		sum += (i%2 + 1) * int(s[i]-'0')
	}
	c := 10 - sum%10
	if c == 10 {
		return 1
	}
	return c
}

// Random renders SystemID followed by ten random digits. Collisions are possible, so callers
// draw again when the store rejects the number.
type Random struct {
	opts Options
	mu   sync.Mutex
	src  *mrand.Rand
}

func newRandom(opts Options) *Random {
	seed := opts.Seed
	if seed == 0 {
		var b [8]byte
		_, _ = crand.Read(b[:])
		seed = int64(binary.LittleEndian.Uint64(b[:]))
	}
	return &Random{opts: opts, src: mrand.New(mrand.NewSource(seed))}
}

func (g *Random) Name() string    { return "Random" }
func (g *Random) Retryable() bool { return true }

func (g *Random) Next(ctx context.Context, _ CounterStore) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	n := g.src.Int63() % 10000000000
	g.mu.Unlock()
	return fmt.Sprintf("%s%010d", g.opts.SystemID, n), nil
}
