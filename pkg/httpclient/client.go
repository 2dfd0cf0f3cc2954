// Package httpclient fetches station pages over HTTP with bounded retries
// and decodes them to UTF-8.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"

	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/metrics"
)

// DefaultUserAgent identifies the exporter to the station site
const DefaultUserAgent = "meteo-chamois-exporter/1.0 (+prometheus)"

// ErrEmptyBody is returned when the station answers 2xx with no content
var ErrEmptyBody = errors.New("empty response body")

// retryableStatus lists the statuses worth another attempt
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// StatusError is returned when the final attempt got a non-2xx answer
type StatusError struct {
	Page       string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s page %s: unexpected status %d", e.Page, e.URL, e.StatusCode)
}

// IsTransient reports whether a later attempt could succeed
func (e *StatusError) IsTransient() bool {
	return retryableStatus[e.StatusCode]
}

// Options configures a Client
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	UserAgent    string
}

var defaultOptions = Options{
	Timeout:   10 * time.Second,
	RetryWait: time.Second,
	UserAgent: DefaultUserAgent,
}

// Client fetches pages relative to the station base URL
type Client struct {
	http    *resty.Client
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// New creates a page client
func New(opts Options, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Client {
	if opts.Timeout < 0 {
		opts.Timeout = 0
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	if opts.RetryWait < 0 {
		opts.RetryWait = 0
	}
	// Zero fields take the defaults; RetryCount has none
	_ = mergo.Merge(&opts, defaultOptions)
	if opts.RetryMaxWait < opts.RetryWait {
		opts.RetryMaxWait = 4 * opts.RetryWait
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	client.SetTimeout(opts.Timeout)
	client.SetHeader("user-agent", opts.UserAgent)
	client.SetRetryCount(opts.RetryCount)
	client.SetRetryWaitTime(opts.RetryWait)
	client.SetRetryMaxWaitTime(opts.RetryMaxWait)
	// A registered condition replaces resty's default, so transport
	// errors have to be listed here too.
	client.AddRetryCondition(func(res *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return res != nil && (&StatusError{StatusCode: res.StatusCode()}).IsTransient()
	})

	return &Client{
		http:    client,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// BaseURL returns the station base URL
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

// FetchPage GETs path and returns its body as UTF-8 text. Non-2xx answers
// after the last retry, transport errors and empty bodies are errors.
func (c *Client) FetchPage(ctx context.Context, page, path string) (string, error) {
	timer := c.metrics.NewTimer(c.metrics.UpstreamRequestDuration.WithLabelValues(page))

	req := c.http.R().SetContext(ctx)
	res, err := req.Get("/" + strings.TrimLeft(path, "/"))
	duration := timer.ObserveDuration()

	for i := 1; i < req.Attempt; i++ {
		c.metrics.RecordUpstreamRetry(page)
	}

	fields := logging.Fields{
		"page":        page,
		"path":        path,
		"attempts":    req.Attempt,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		c.metrics.RecordUpstreamRequest(page, "error")
		c.logger.Error(ctx, "[UPSTREAM_ERROR] Station page request failed", fields, err)
		return "", fmt.Errorf("fetching %s page: %w", page, err)
	}

	fields["status"] = res.StatusCode()
	c.metrics.RecordUpstreamRequest(page, strconv.Itoa(res.StatusCode()))

	if !res.IsSuccess() {
		statusErr := &StatusError{Page: page, URL: res.Request.URL, StatusCode: res.StatusCode()}
		fields["transient"] = statusErr.IsTransient()
		c.logger.Error(ctx, "[UPSTREAM_ERROR] Station page returned an error status", fields, statusErr)
		return "", statusErr
	}

	body, err := decode(res.Body(), res.Header().Get("Content-Type"))
	if err != nil {
		c.logger.Error(ctx, "[UPSTREAM_ERROR] Unable to decode station page", fields, err)
		return "", fmt.Errorf("decoding %s page: %w", page, err)
	}
	if strings.TrimSpace(body) == "" {
		c.logger.Warn(ctx, "[UPSTREAM_EMPTY] Station page has no content", fields)
		return "", fmt.Errorf("fetching %s page: %w", page, ErrEmptyBody)
	}

	fields["bytes"] = len(body)
	c.logger.Debug(ctx, "[UPSTREAM_OK] Station page fetched", fields)

	return body, nil
}

// decode converts body to UTF-8 from the declared charset, or the one
// sniffed from the markup when the header has none.
func decode(body []byte, contentType string) (string, error) {
	if len(body) == 0 {
		return "", nil
	}

	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return "", err
	}

	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
