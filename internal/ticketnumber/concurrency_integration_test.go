//go:build integration

package ticketnumber

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-intake/internal/config"
	"github.com/gotrs-io/gotrs-intake/internal/database"
)

func TestDBStoreConcurrentGenerators(t *testing.T) {
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	db, err := database.Open(ctx, config.DatabaseConfig{Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	defer db.Close()
	_, err = database.Migrate(ctx, db)
	require.NoError(t, err)

	store := NewDBStore(db)
	for _, name := range []string{"Increment", "Date", "DateChecksum"} {
		g, err := Resolve(name, "10", WithClock(fixedClock(2025, 10, 4)))
		require.NoError(t, err)
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			var mu sync.Mutex
			seen := make(map[string]struct{})
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					n, err := g.Next(ctx, store)
					if err != nil {
						t.Errorf("next: %v", err)
						return
					}
					mu.Lock()
					defer mu.Unlock()
					if _, dup := seen[n]; dup {
						t.Errorf("duplicate %s", n)
					}
					seen[n] = struct{}{}
				}()
			}
			wg.Wait()
			require.Len(t, seen, 40)
		})
	}
}
