// Package playlist is the playlist collaborator: it fetches and decodes
// master and media playlists and feeds the core through the event bus.
package playlist

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/grafov/m3u8"

	"hlsclient/internal/frag"
	"hlsclient/internal/level"
	"hlsclient/internal/logger"
)

// Client fetches playlists from the origin.
type Client struct {
	httpClient *http.Client
	log        logger.Logger
	userAgent  string
}

// NewClient creates a playlist client.
func NewClient(log logger.Logger, userAgent string) *Client {
	transport := &http.Transport{
		ResponseHeaderTimeout: 3 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log:       log.With("playlist"),
		userAgent: userAgent,
	}
}

// HTTPClient returns the underlying http.Client instance.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// FetchMaster fetches and decodes a master playlist into levels. The final
// URL after redirects is returned so relative media playlists resolve.
func (c *Client) FetchMaster(masterURL string) ([]*level.Level, string, error) {
	data, finalURL, err := c.fetch(masterURL)
	if err != nil {
		return nil, "", err
	}

	pl, listType, err := m3u8.Decode(*bytes.NewBuffer(data), true)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode playlist from %s: %w", finalURL, err)
	}

	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid playlist URL %s: %w", finalURL, err)
	}

	switch listType {
	case m3u8.MASTER:
		levels, err := level.FromMasterPlaylist(pl.(*m3u8.MasterPlaylist), base)
		return levels, finalURL, err
	case m3u8.MEDIA:
		// A media playlist at the top level is a single-level stream.
		lvl := &level.Level{URI: finalURL, Name: "default"}
		return []*level.Level{lvl}, finalURL, nil
	default:
		return nil, "", fmt.Errorf("unrecognized playlist type from %s", finalURL)
	}
}

// FetchMedia fetches and decodes one level's media playlist.
func (c *Client) FetchMedia(mediaURL string, levelIdx int, kind frag.Kind) (*level.Details, error) {
	data, finalURL, err := c.fetch(mediaURL)
	if err != nil {
		return nil, err
	}

	pl, listType, err := m3u8.Decode(*bytes.NewBuffer(data), true)
	if err != nil {
		return nil, fmt.Errorf("failed to decode playlist from %s: %w", finalURL, err)
	}
	if listType != m3u8.MEDIA {
		return nil, fmt.Errorf("expected media playlist at %s, got master", finalURL)
	}

	base, err := url.Parse(finalURL)
	if err != nil {
		return nil, fmt.Errorf("invalid playlist URL %s: %w", finalURL, err)
	}

	return level.FromMediaPlaylist(pl.(*m3u8.MediaPlaylist), base, kind, levelIdx)
}

// fetch GETs a playlist with transport-level retry, following a single
// redirect by hand so the final URL is known.
func (c *Client) fetch(initialURL string) ([]byte, string, error) {
	var data []byte
	finalURL := initialURL

	operation := func() error {
		var err error
		data, finalURL, err = c.fetchOnce(initialURL)
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, "", err
	}
	return data, finalURL, nil
}

func (c *Client) fetchOnce(initialURL string) ([]byte, string, error) {
	c.log.Debugf("Fetching playlist from URL: %s", initialURL)

	resp, err := c.get(initialURL)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	finalURL := initialURL
	if resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusMovedPermanently {
		location, err := resp.Location()
		if err != nil {
			return nil, "", fmt.Errorf("redirect location error: %w", err)
		}
		finalURL = location.String()
		c.log.Debugf("Redirected to: %s", finalURL)

		redirected, err := c.get(finalURL)
		if err != nil {
			return nil, "", err
		}
		defer redirected.Body.Close()
		resp = redirected
	}

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to fetch playlist: received status code %d from %s", resp.StatusCode, finalURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read playlist response body: %w", err)
	}
	return data, finalURL, nil
}

func (c *Client) get(rawURL string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch playlist from %s: %w", rawURL, err)
	}
	return resp, nil
}
