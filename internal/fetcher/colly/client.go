// Package collyfetcher wraps the Colly collector into a single-shot HTTP
// client. It performs exactly one GET per call; retry and pacing policy
// live a layer up.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls collector behavior.
type Config struct {
	// UserAgent is sent on every request. EDGAR rejects anonymous
	// clients, so this is mandatory.
	UserAgent string
	// MaxBodySize caps response bodies in bytes. Zero means unlimited;
	// full filing submissions regularly exceed Colly's default cap.
	MaxBodySize int
}

// Response is the outcome of one GET. StatusCode is populated even when the
// request failed with an HTTP error status.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Client issues single GET requests through a cloned collector per call.
type Client struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Client with a pooled transport.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user agent is required")
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Client{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}, nil
}

// Get fetches the URL once with the given timeout. HTTP error statuses
// return both a Response carrying the status and a non-nil error.
func (c *Client) Get(ctx context.Context, url string, timeout time.Duration) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()

	collector := c.baseCollector.Clone()
	collector.UserAgent = c.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.MaxBodySize = c.cfg.MaxBodySize
	collector.WithTransport(c.transport)
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.StatusCode = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				result.URL = r.Request.URL.String()
			}
			result.Duration = time.Since(start)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return result, fmt.Errorf("visit %s: %w", url, err)
		}
		if fetchErr != nil {
			return result, fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
