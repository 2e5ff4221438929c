package httpx

import (
	"context"
	"net/http"

	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
)

// Session is the HTTP capability of one VU. It records into the VU's
// sample buffer and tags samples with the VU's current group.
type Session struct {
	client *Client
	rec    metrics.Recorder
	tags   func() metrics.Tags
}

// Client returns the shared client behind the session.
func (s *Session) Client() *Client {
	return s.client
}

// Do executes req and records its metrics. The returned error is the
// transport error, if any; HTTP error statuses are not errors.
//
// ctx should not be tied to run cancellation: an in-flight request is
// always allowed to finish.
func (s *Session) Do(ctx context.Context, req *Request) (*Response, error) {
	resp := s.client.do(ctx, req)

	var base metrics.Tags
	if s.tags != nil {
		base = s.tags()
	}
	s.client.record(s.rec, base, resp)

	return resp, resp.Error
}

// Get issues a GET request.
func (s *Session) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return s.Do(ctx, &Request{Method: http.MethodGet, URL: url, Headers: headers})
}

// Post issues a POST request.
func (s *Session) Post(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error) {
	return s.Do(ctx, &Request{Method: http.MethodPost, URL: url, Body: body, Headers: headers})
}

// Put issues a PUT request.
func (s *Session) Put(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error) {
	return s.Do(ctx, &Request{Method: http.MethodPut, URL: url, Body: body, Headers: headers})
}

// Patch issues a PATCH request.
func (s *Session) Patch(ctx context.Context, url string, body []byte, headers map[string]string) (*Response, error) {
	return s.Do(ctx, &Request{Method: http.MethodPatch, URL: url, Body: body, Headers: headers})
}

// Delete issues a DELETE request.
func (s *Session) Delete(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return s.Do(ctx, &Request{Method: http.MethodDelete, URL: url, Headers: headers})
}
