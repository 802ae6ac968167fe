// Package collyfetch implements scrape.Fetcher using gocolly.
package collyfetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/pricescan/pricescan-scraper/internal/ratelimit"
	"github.com/pricescan/pricescan-scraper/internal/scrape"
	"github.com/pricescan/pricescan-scraper/internal/telemetry"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	IgnoreRobots bool
}

// Fetcher performs single-attempt HTTP GETs through a cloned Colly
// collector, pacing requests per domain through the shared limiter.
type Fetcher struct {
	cfg           Config
	limiter       *ratelimit.Limiter
	baseCollector *colly.Collector
}

// New builds a Fetcher. limiter may be nil to disable pacing.
func New(cfg Config, limiter *ratelimit.Limiter) *Fetcher {
	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; synchronous collection (the default) is what we want.
	c := colly.NewCollector()
	c.Async = false
	c.IgnoreRobotsTxt = cfg.IgnoreRobots
	c.WithTransport(newHTTPTransport())
	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		baseCollector: c,
	}
}

// Fetch executes one HTTP GET. Transport failures, timeouts and non-2xx
// statuses come back as *scrape.FetchError; context cancellation is
// returned as-is so callers can distinguish shutdown from a bad source.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, opts scrape.FetchOptions) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, rawURL); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
			}
			return nil, &scrape.FetchError{Kind: scrape.FetchNetwork, URL: rawURL, Err: err}
		}
	}

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector := f.buildCollector(opts, &body, &status, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		telemetry.ObserveFetch(domainOf(rawURL), "canceled")
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case visitErr := <-done:
		if visitErr == nil && fetchErr == nil {
			telemetry.ObserveFetch(domainOf(rawURL), "ok")
			return body, nil
		}
		ferr := classify(rawURL, status, visitErr, fetchErr)
		telemetry.ObserveFetch(domainOf(rawURL), string(ferr.Kind))
		return nil, ferr
	}
}

func (f *Fetcher) buildCollector(opts scrape.FetchOptions, body *[]byte, status *int, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = f.cfg.UserAgent
	}
	if userAgent != "" {
		collector.UserAgent = userAgent
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = f.cfg.Timeout
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	collector.SetRequestTimeout(timeout)

	collector.OnRequest(func(r *colly.Request) {
		for key, value := range opts.Headers {
			r.Headers.Set(key, value)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
	return collector
}

// classify maps a collector failure onto the fetch error taxonomy.
func classify(rawURL string, status int, visitErr, responseErr error) *scrape.FetchError {
	err := responseErr
	if err == nil {
		err = visitErr
	}

	if status >= 300 {
		return &scrape.FetchError{Kind: scrape.FetchHTTPStatus, URL: rawURL, Status: status, Err: err}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &scrape.FetchError{Kind: scrape.FetchTimeout, URL: rawURL, Err: err}
	}
	return &scrape.FetchError{Kind: scrape.FetchNetwork, URL: rawURL, Err: err}
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
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
