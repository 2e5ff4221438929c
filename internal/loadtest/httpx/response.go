package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Request describes one HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte

	// Name is the "name" tag of the request's samples. Defaults to URL,
	// so give parameterised URLs a fixed name to keep tag cardinality low.
	Name string
}

// Timings are the request phases, as measured by httptrace.
type Timings struct {
	Connecting     time.Duration `json:"connecting"`
	TLSHandshaking time.Duration `json:"tlsHandshaking"`
	Waiting        time.Duration `json:"waiting"`
	Receiving      time.Duration `json:"receiving"`
	Duration       time.Duration `json:"duration"`
}

// Response is the outcome of a request. A transport failure is reported in
// Error with Status 0; the response is never nil.
type Response struct {
	Request *Request
	URL     string
	Status  int
	Proto   string
	Headers http.Header
	Body    []byte
	Timings Timings
	Error   error
}

// Failed reports whether the request counts towards http_req_failed: a
// transport error or a status of 400 or more.
func (r *Response) Failed() bool {
	return r.Error != nil || r.Status == 0 || r.Status >= 400
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON looks up a gjson path in the body, e.g. "data.items.#" or
// "users.0.name".
func (r *Response) JSON(path string) gjson.Result {
	return gjson.GetBytes(r.Body, path)
}

// Header returns the first value of the named response header.
func (r *Response) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(name)
}

func (r *Response) method() string {
	if r.Request == nil || r.Request.Method == "" {
		return http.MethodGet
	}
	return r.Request.Method
}

func (r *Response) name() string {
	if r.Request != nil && r.Request.Name != "" {
		return r.Request.Name
	}
	// Query strings stay out of the tag.
	if i := strings.IndexByte(r.URL, '?'); i >= 0 {
		return r.URL[:i]
	}
	return r.URL
}
