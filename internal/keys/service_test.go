package keys

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlsclient/internal/logger"
)

type fakeFetcher struct {
	calls int
	key   []byte
	err   error
}

func (f *fakeFetcher) LoadKey(ctx context.Context, uri string) ([]byte, error) {
	f.calls++
	return f.key, f.err
}

func TestGetKey_FetchesOnceThenCaches(t *testing.T) {
	fetcher := &fakeFetcher{key: make([]byte, 16)}
	svc, err := NewService(logger.Discard(), fetcher, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		key, err := svc.GetKey(context.Background(), "https://keys.example.com/k1")
		require.NoError(t, err)
		assert.Len(t, key, 16)
	}
	assert.Equal(t, 1, fetcher.calls)
}

func TestGetKey_Preseeded(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("must not be called")}
	seeded := map[string][]byte{"skd://asset-1": make([]byte, 16)}
	svc, err := NewService(logger.Discard(), fetcher, seeded)
	require.NoError(t, err)

	key, err := svc.GetKey(context.Background(), "skd://asset-1")
	require.NoError(t, err)
	assert.Len(t, key, 16)
	assert.Equal(t, 0, fetcher.calls)
}

func TestGetKey_FetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: fmt.Errorf("boom")}
	svc, err := NewService(logger.Discard(), fetcher, nil)
	require.NoError(t, err)

	_, err = svc.GetKey(context.Background(), "https://keys.example.com/k1")
	assert.Error(t, err)
}

func TestGetKey_RejectsInvalidLength(t *testing.T) {
	fetcher := &fakeFetcher{key: []byte("short")}
	svc, err := NewService(logger.Discard(), fetcher, nil)
	require.NoError(t, err)

	_, err = svc.GetKey(context.Background(), "https://keys.example.com/k1")
	assert.Error(t, err)
	// The bad response is not cached; a later fetch retries.
	_, _ = svc.GetKey(context.Background(), "https://keys.example.com/k1")
	assert.Equal(t, 2, fetcher.calls)
}

func TestNewService_RejectsBadPreseededKey(t *testing.T) {
	_, err := NewService(logger.Discard(), &fakeFetcher{}, map[string][]byte{"u": []byte("short")})
	assert.Error(t, err)
}
