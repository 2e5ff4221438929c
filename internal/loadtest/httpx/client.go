// Package httpx is the instrumented HTTP client handed to scenarios.
//
// Every request records the built-in http_* metrics with timings taken
// from net/http/httptrace, tagged with method, status, name and the
// calling VU's group.
package httpx

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/rate"
)

// DefaultUserAgent is sent when no User-Agent is configured.
const DefaultUserAgent = "rampvu/1.0"

// Config contains HTTP client configuration.
type Config struct {
	// BaseURL is prepended to request URLs that start with "/".
	BaseURL string

	// Timeout bounds every request, including reading the body.
	Timeout time.Duration

	// Headers are added to every request unless the request sets them.
	Headers map[string]string

	UserAgent string

	// RPS caps requests per second across all VUs. Zero means unlimited.
	RPS float64

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	InsecureSkipVerify  bool
}

// DefaultConfig returns sensible defaults for load testing.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		UserAgent:           DefaultUserAgent,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
}

// Client is shared by all VUs of a run. It is safe for concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *rate.Limiter
	builtins *metrics.BuiltinMetrics
}

// NewClient creates a client recording into the given built-in metrics.
func NewClient(cfg Config, builtins *metrics.BuiltinMetrics) *Client {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if cfg.IdleConnTimeout <= 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for test targets
	}

	return &Client{
		cfg:      cfg,
		http:     &http.Client{Transport: transport, Timeout: cfg.Timeout},
		limiter:  rate.New(cfg.RPS),
		builtins: builtins,
	}
}

// Timeout returns the per-request timeout. It bounds how long retiring a VU
// can take.
func (c *Client) Timeout() time.Duration {
	return c.cfg.Timeout
}

// Limiter returns the global request-rate limiter, or nil when unlimited.
func (c *Client) Limiter() *rate.Limiter {
	return c.limiter
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Session returns a view of the client that records into rec. tags is
// called for every request so the caller's current group is picked up.
func (c *Client) Session(rec metrics.Recorder, tags func() metrics.Tags) *Session {
	return &Session{client: c, rec: rec, tags: tags}
}

// ResolveURL prepends the base URL to relative paths.
func (c *Client) ResolveURL(u string) string {
	if c.cfg.BaseURL != "" && strings.HasPrefix(u, "/") {
		return strings.TrimRight(c.cfg.BaseURL, "/") + u
	}
	return u
}

func (c *Client) do(ctx context.Context, req *Request) *Response {
	resp := &Response{
		Request: req,
		URL:     c.ResolveURL(req.URL),
	}

	if err := c.limiter.Wait(ctx); err != nil {
		resp.Error = err
		return resp
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, resp.URL, body)
	if err != nil {
		resp.Error = fmt.Errorf("build request: %w", err)
		return resp
	}
	for k, v := range c.cfg.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	tt := &traceTimes{}
	httpReq = httpReq.WithContext(httptrace.WithClientTrace(ctx, tt.clientTrace()))

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		resp.Timings.Duration = time.Since(start)
		resp.Error = err
		return resp
	}

	data, readErr := io.ReadAll(httpResp.Body)
	_ = httpResp.Body.Close()
	end := time.Now()

	resp.Status = httpResp.StatusCode
	resp.Proto = httpResp.Proto
	resp.Headers = httpResp.Header
	resp.Body = data
	if readErr != nil {
		resp.Error = fmt.Errorf("read body: %w", readErr)
	}
	resp.Timings = tt.timings(start, end)

	return resp
}

// traceTimes collects httptrace callbacks. Dial callbacks can fire on
// transport goroutines after Do has returned, hence the mutex.
type traceTimes struct {
	mu sync.Mutex

	connectStart, connectDone time.Time
	tlsStart, tlsDone         time.Time
	gotConn, wroteRequest     time.Time
	firstByte                 time.Time
}

func (tt *traceTimes) set(field *time.Time) {
	now := time.Now()
	tt.mu.Lock()
	*field = now
	tt.mu.Unlock()
}

func (tt *traceTimes) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		ConnectStart: func(_, _ string) { tt.set(&tt.connectStart) },
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				tt.set(&tt.connectDone)
			}
		},
		TLSHandshakeStart: func() { tt.set(&tt.tlsStart) },
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				tt.set(&tt.tlsDone)
			}
		},
		GotConn:              func(httptrace.GotConnInfo) { tt.set(&tt.gotConn) },
		WroteRequest:         func(httptrace.WroteRequestInfo) { tt.set(&tt.wroteRequest) },
		GotFirstResponseByte: func() { tt.set(&tt.firstByte) },
	}
}

func span(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}

// timings derives the request phases. Duration excludes connection setup:
// it runs from obtaining the connection to the last byte of the body.
func (tt *traceTimes) timings(start, end time.Time) Timings {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	t := Timings{
		Connecting:     span(tt.connectStart, tt.connectDone),
		TLSHandshaking: span(tt.tlsStart, tt.tlsDone),
		Waiting:        span(tt.wroteRequest, tt.firstByte),
		Receiving:      span(tt.firstByte, end),
	}

	from := tt.gotConn
	if from.IsZero() {
		from = start
	}
	t.Duration = span(from, end)
	return t
}

// record pushes the built-in request metrics for resp.
func (c *Client) record(rec metrics.Recorder, base metrics.Tags, resp *Response) {
	b := c.builtins
	if b == nil || rec == nil {
		return
	}

	tags := base.Merge(metrics.Tags{
		"method": strings.ToUpper(resp.method()),
		"name":   resp.name(),
		"status": strconv.Itoa(resp.Status),
	})
	if resp.Error != nil {
		tags["error"] = errorCode(resp.Error)
	}

	failed := 0.0
	if resp.Failed() {
		failed = 1
	}

	rec.Add(b.HTTPReqs, 1, tags)
	rec.Add(b.HTTPReqFailed, failed, tags)
	rec.Add(b.HTTPReqDuration, ms(resp.Timings.Duration), tags)
	rec.Add(b.HTTPReqWaiting, ms(resp.Timings.Waiting), tags)
	rec.Add(b.HTTPReqConnecting, ms(resp.Timings.Connecting), tags)
	rec.Add(b.HTTPReqTLSHandshaking, ms(resp.Timings.TLSHandshaking), tags)
	rec.Add(b.HTTPReqReceiving, ms(resp.Timings.Receiving), tags)
	rec.Add(b.DataReceived, float64(len(resp.Body)), tags)
	rec.Add(b.DataSent, float64(len(resp.Request.Body)), tags)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case strings.Contains(err.Error(), "Client.Timeout"), strings.Contains(err.Error(), "deadline exceeded"):
		return "timeout"
	case strings.Contains(err.Error(), "connection refused"):
		return "connection_refused"
	case strings.Contains(err.Error(), "no such host"):
		return "dns"
	default:
		return "request"
	}
}
