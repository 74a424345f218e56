package loader

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hlsclient/internal/frag"
	"hlsclient/internal/logger"
)

func TestLoad_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "segment data")
	}))
	defer server.Close()

	l := NewHTTPLoader(nil, logger.Discard(), "test-agent", 5*time.Second)
	results := make(chan Result, 1)
	l.Load(&frag.Fragment{SN: 1, URL: server.URL}, results)

	res := <-results
	require.NoError(t, res.Err)
	assert.Equal(t, "segment data", string(res.Data))
	assert.Equal(t, int64(12), res.Stats.Loaded)
	assert.False(t, res.Stats.TRequest.IsZero())
	assert.False(t, res.Stats.TLoad.Before(res.Stats.TFirst))
}

func TestLoad_ByteRangeHeader(t *testing.T) {
	var gotRange string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.WriteHeader(http.StatusPartialContent)
		fmt.Fprint(w, "partial")
	}))
	defer server.Close()

	l := NewHTTPLoader(nil, logger.Discard(), "", 5*time.Second)
	results := make(chan Result, 1)
	l.Load(&frag.Fragment{
		SN: 1, URL: server.URL,
		ByteRange: &frag.ByteRange{Length: 100, Offset: 50},
	}, results)

	res := <-results
	require.NoError(t, res.Err)
	assert.Equal(t, "bytes=50-149", gotRange)
}

func TestLoad_HTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	l := NewHTTPLoader(nil, logger.Discard(), "", 5*time.Second)
	results := make(chan Result, 1)
	l.Load(&frag.Fragment{SN: 1, URL: server.URL}, results)

	res := <-results
	assert.Error(t, res.Err)
	assert.False(t, res.Timeout)
	assert.False(t, res.Aborted)
}

func TestLoad_Timeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client := &http.Client{}
	l := NewHTTPLoader(client, logger.Discard(), "", 100*time.Millisecond)
	results := make(chan Result, 1)
	l.Load(&frag.Fragment{SN: 1, URL: server.URL}, results)

	res := <-results
	assert.Error(t, res.Err)
	assert.True(t, res.Timeout)
}

func TestLoad_Abort(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client := &http.Client{}
	l := NewHTTPLoader(client, logger.Discard(), "", 10*time.Second)
	results := make(chan Result, 1)
	l.Load(&frag.Fragment{SN: 1, URL: server.URL}, results)

	time.Sleep(50 * time.Millisecond)
	l.Abort()

	res := <-results
	assert.Error(t, res.Err)
	assert.True(t, res.Aborted)
}

func TestLoadKey(t *testing.T) {
	key := make([]byte, 16)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(key)
	}))
	defer server.Close()

	l := NewHTTPLoader(nil, logger.Discard(), "", 5*time.Second)
	got, err := l.LoadKey(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, got, 16)
}

func TestLoadKey_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	l := NewHTTPLoader(nil, logger.Discard(), "", 5*time.Second)
	_, err := l.LoadKey(context.Background(), server.URL)
	assert.Error(t, err)
}
