package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type noopFetcher struct{}

func (noopFetcher) Name() string { return "noop" }

func (noopFetcher) Fetch(ctx context.Context, account Account, handler Handler) error { return nil }

func TestFactoryReturnsRegisteredFetcher(t *testing.T) {
	factory := NewFactory(WithFetcher(noopFetcher{}, "Pop3"))

	fetcher, err := factory.FetcherFor(Account{Type: "POP3"})
	require.NoError(t, err)
	assert.Equal(t, "noop", fetcher.Name())

	_, err = factory.FetcherFor(Account{Type: "graph"})
	assert.ErrorContains(t, err, "no connector registered")
}

func TestDefaultFactory(t *testing.T) {
	factory := DefaultFactory(zap.NewNop())
	for typ, want := range map[string]string{"pop3s": "pop3", "imaps": "imap", "IMAP": "imap"} {
		fetcher, err := factory.FetcherFor(Account{Type: typ})
		require.NoError(t, err, typ)
		assert.Equal(t, want, fetcher.Name())
	}
}
