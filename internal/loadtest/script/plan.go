// Package script runs declarative request sequences as scenarios: groups
// of HTTP requests with checks, value extraction and think time.
package script

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest"
	"github.com/wesleyorama2/rampvu/internal/loadtest/httpx"
)

// ThinkTime is the pause after each iteration. Min/Max give a uniform
// random pause; Fixed, when set, wins.
type ThinkTime struct {
	Fixed time.Duration
	Min   time.Duration
	Max   time.Duration
}

// Next returns the next pause.
func (t ThinkTime) Next() time.Duration {
	if t.Fixed > 0 {
		return t.Fixed
	}
	if t.Max <= t.Min {
		return t.Min
	}
	return t.Min + rand.N(t.Max-t.Min)
}

// Request is one HTTP call of a plan. URL, headers and body may reference
// variables as {{name}}.
type Request struct {
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Body    string

	Checks  []Check
	Extract []Extract

	// ThinkTime is a pause after this request.
	ThinkTime time.Duration
}

// Group is a named list of requests. Requests of a group with an empty
// name run at the top level.
type Group struct {
	Name     string
	Requests []Request
}

// Plan is a compiled request sequence.
type Plan struct {
	Groups    []Group
	ThinkTime ThinkTime
}

// Scenario returns the plan as a scenario function.
func (p *Plan) Scenario() loadtest.Scenario {
	return p.Run
}

// Run executes every group once, then pauses for the plan's think time.
// A transport error ends the iteration; failed checks do not.
func (p *Plan) Run(ctx context.Context, vu *loadtest.VU) error {
	for _, g := range p.Groups {
		if err := p.runGroup(ctx, vu, g); err != nil {
			return err
		}
	}
	vu.Sleep(p.ThinkTime.Next())
	return nil
}

func (p *Plan) runGroup(ctx context.Context, vu *loadtest.VU, g Group) error {
	run := func() error {
		for i := range g.Requests {
			if _, err := Execute(ctx, vu, &g.Requests[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if g.Name == "" {
		return run()
	}
	return vu.Group(g.Name, run)
}

// Execute sends req on behalf of vu, runs its checks and extractions and
// honours its think time.
func Execute(ctx context.Context, vu *loadtest.VU, req *Request) (*httpx.Response, error) {
	vars := Vars(vu)
	hreq := &httpx.Request{
		Method:  req.Method,
		URL:     Expand(req.URL, vars),
		Headers: expandMap(req.Headers, vars),
		Name:    req.Name,
	}
	if req.Body != "" {
		hreq.Body = []byte(Expand(req.Body, vars))
	}
	if hreq.Name == "" {
		// Keep the unexpanded URL so per-user ids do not explode the tag set.
		hreq.Name = req.URL
	}

	resp, err := vu.HTTP().Do(ctx, hreq)

	for _, c := range req.Checks {
		vu.Check(c.Name, c.Eval(resp))
	}
	if err != nil {
		return resp, fmt.Errorf("%s %s: %w", hreq.Method, hreq.URL, err)
	}

	for _, x := range req.Extract {
		if v, ok := x.From(resp); ok {
			vu.Set(x.Name, v)
		}
	}

	vu.Sleep(req.ThinkTime)
	return resp, nil
}

// Hook runs requests once, outside of the load, for setup and teardown.
// Values extracted during setup become the run's setup data.
type Hook struct {
	Requests []Request
}

// Setup executes the hook and returns the extracted values.
func (h *Hook) Setup(ctx context.Context, vu *loadtest.VU) (any, error) {
	if err := h.run(ctx, vu); err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, r := range h.Requests {
		for _, x := range r.Extract {
			if v, ok := vu.Get(x.Name); ok {
				out[x.Name] = fmt.Sprint(v)
			}
		}
	}
	return out, nil
}

// Teardown executes the hook. Setup data is available to its templates.
func (h *Hook) Teardown(ctx context.Context, vu *loadtest.VU, _ any) error {
	return h.run(ctx, vu)
}

func (h *Hook) run(ctx context.Context, vu *loadtest.VU) error {
	for i := range h.Requests {
		resp, err := Execute(ctx, vu, &h.Requests[i])
		if err != nil {
			return err
		}
		for _, c := range h.Requests[i].Checks {
			if !c.Eval(resp) {
				return fmt.Errorf("%s: check %q failed (status %d)", h.Requests[i].URL, c.Name, resp.Status)
			}
		}
	}
	return nil
}
