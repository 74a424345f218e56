// Package loader fetches media fragments and decryption keys over HTTP.
//
// A fragment load is asynchronous: the result arrives on the channel the
// caller supplies. The scheduler owns the retry envelope, so a loader
// attempt is exactly one request; classification of the failure (error vs
// timeout) travels in the Result.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"hlsclient/internal/frag"
	"hlsclient/internal/logger"
)

// Result is the outcome of a single fragment load attempt.
type Result struct {
	Frag    *frag.Fragment
	Data    []byte
	Stats   frag.LoadStats
	Err     error
	Timeout bool
	Aborted bool
}

// FragmentLoader issues at most one fragment load at a time.
type FragmentLoader interface {
	Load(f *frag.Fragment, results chan<- Result)
	Abort()
}

// HTTPLoader is the production FragmentLoader.
type HTTPLoader struct {
	httpClient *http.Client
	log        logger.Logger
	userAgent  string
	timeout    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHTTPLoader creates a loader. A nil client gets a transport with a
// response-header timeout.
func NewHTTPLoader(client *http.Client, log logger.Logger, userAgent string, timeout time.Duration) *HTTPLoader {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{ResponseHeaderTimeout: 3 * time.Second},
		}
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPLoader{
		httpClient: client,
		log:        log.With("loader"),
		userAgent:  userAgent,
		timeout:    timeout,
	}
}

// Load fetches the fragment in the background and posts the Result. Any
// in-flight load is aborted first; the scheduler never has more than one.
func (l *HTTPLoader) Load(f *frag.Fragment, results chan<- Result) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = cancel
	l.mu.Unlock()

	go func() {
		res := l.fetch(ctx, f)
		cancel()
		results <- res
	}()
}

// Abort cancels the in-flight load, if any. The pending Result is still
// delivered, flagged Aborted.
func (l *HTTPLoader) Abort() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

func (l *HTTPLoader) fetch(ctx context.Context, f *frag.Fragment) Result {
	res := Result{Frag: f}
	res.Stats.TRequest = time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		res.Err = fmt.Errorf("failed to create request for fragment sn=%d: %w", f.SN, err)
		return res
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}
	if f.ByteRange != nil {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d",
			f.ByteRange.Offset, f.ByteRange.Offset+f.ByteRange.Length-1))
	}

	l.log.Debugf("Loading fragment level=%d sn=%d from %s", f.Level, f.SN, f.URL)
	resp, err := l.httpClient.Do(req)
	if err != nil {
		classify(&res, ctx, err)
		return res
	}
	defer resp.Body.Close()

	res.Stats.TFirst = time.Now()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		res.Err = fmt.Errorf("fragment sn=%d received status %d", f.SN, resp.StatusCode)
		return res
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		classify(&res, ctx, err)
		return res
	}

	res.Stats.TLoad = time.Now()
	res.Stats.Loaded = int64(len(data))
	res.Stats.Total = resp.ContentLength
	if res.Stats.Total < 0 {
		res.Stats.Total = res.Stats.Loaded
	}
	res.Data = data
	return res
}

// LoadKey fetches a decryption key synchronously with the loader's timeout.
func (l *HTTPLoader) LoadKey(ctx context.Context, uri string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create key request: %w", err)
	}
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch key from %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key fetch from %s received status %d", uri, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func classify(res *Result, ctx context.Context, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Timeout = true
		res.Err = fmt.Errorf("fragment load timed out: %w", err)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		res.Aborted = true
		res.Err = fmt.Errorf("fragment load aborted: %w", err)
	default:
		res.Err = err
	}
}
