package script_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rampvu/internal/loadtest"
	"github.com/wesleyorama2/rampvu/internal/loadtest/httpx"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/script"
)

func newVU(t *testing.T, baseURL string) (*loadtest.VU, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	b := metrics.RegisterBuiltins(reg)
	client := httpx.NewClient(httpx.Config{BaseURL: baseURL}, b)
	t.Cleanup(client.Close)
	env := &loadtest.Env{
		Builtins: b,
		Client:   client,
		Vars:     map[string]string{"tenant": "acme"},
	}
	return loadtest.NewVU(1, env, metrics.Direct{Registry: reg}), reg
}

func mustCheck(t *testing.T, spec script.CheckSpec) script.Check {
	t.Helper()
	c, err := script.NewCheck(spec)
	require.NoError(t, err)
	return c
}

func TestNewCheck(t *testing.T) {
	resp := &httpx.Response{
		Status:  201,
		Body:    []byte(`{"data":{"id":42,"name":"flight"},"items":[1,2,3]}`),
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Timings: httpx.Timings{Duration: 120 * time.Millisecond},
	}

	tests := []struct {
		name string
		spec script.CheckSpec
		want bool
	}{
		{"status eq", script.CheckSpec{Type: "status", Value: "201"}, true},
		{"status ne", script.CheckSpec{Type: "status", Condition: "ne", Value: "201"}, false},
		{"status range", script.CheckSpec{Type: "status", Condition: "in", Value: "200-299"}, true},
		{"status list", script.CheckSpec{Type: "status", Condition: "in", Value: "200, 204"}, false},
		{"duration under", script.CheckSpec{Type: "duration", Value: "500ms"}, true},
		{"duration over", script.CheckSpec{Type: "duration", Condition: "lt", Value: "100"}, false},
		{"body contains", script.CheckSpec{Type: "body", Value: "flight"}, true},
		{"body not contains", script.CheckSpec{Type: "body", Condition: "not_contains", Value: "error"}, true},
		{"body matches", script.CheckSpec{Type: "body", Condition: "matches", Value: `"id":\d+`}, true},
		{"body not empty", script.CheckSpec{Type: "body", Condition: "not_empty"}, true},
		{"header exists", script.CheckSpec{Type: "header", Path: "Content-Type"}, true},
		{"header contains", script.CheckSpec{Type: "header", Path: "content-type", Condition: "contains", Value: "json"}, true},
		{"header missing", script.CheckSpec{Type: "header", Path: "X-Trace"}, false},
		{"jsonpath exists", script.CheckSpec{Type: "jsonpath", Path: "$.data.id"}, true},
		{"jsonpath eq", script.CheckSpec{Type: "jsonpath", Path: "data.name", Condition: "eq", Value: "flight"}, true},
		{"jsonpath gt", script.CheckSpec{Type: "jsonpath", Path: "$.items[2]", Condition: "gt", Value: "2"}, true},
		{"jsonpath missing", script.CheckSpec{Type: "jsonpath", Path: "$.data.missing"}, false},
		{"schema ok", script.CheckSpec{Type: "jsonschema", Schema: `{"type":"object","required":["data"]}`}, true},
		{"schema fails", script.CheckSpec{Type: "jsonschema", Schema: `{"type":"object","required":["error"]}`}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustCheck(t, tt.spec)
			assert.NotEmpty(t, c.Name)
			assert.Equal(t, tt.want, c.Eval(resp))
		})
	}
}

func TestNewCheck_Invalid(t *testing.T) {
	specs := []script.CheckSpec{
		{Type: "nope"},
		{Type: "status", Value: "abc"},
		{Type: "status", Condition: "contains", Value: "200"},
		{Type: "body", Condition: "matches", Value: "("},
		{Type: "header"},
		{Type: "jsonpath"},
		{Type: "jsonschema", Schema: "{"},
		{Type: "duration", Value: "soon"},
	}
	for _, spec := range specs {
		_, err := script.NewCheck(spec)
		assert.Error(t, err, "%+v", spec)
	}
}

func TestCheck_TransportErrorFails(t *testing.T) {
	c := mustCheck(t, script.CheckSpec{Type: "status", Condition: "ne", Value: "500"})
	assert.False(t, c.Eval(&httpx.Response{Error: assert.AnError}))
	assert.False(t, c.Eval(nil))
}

func TestGJSONPath(t *testing.T) {
	tests := map[string]string{
		"$":                 "@this",
		"$.name":            "name",
		"$.users[0].name":   "users.0.name",
		"$['address'].city": "address.city",
		"$[1]":              "1",
		"data.items.#":      "data.items.#",
	}
	for in, want := range tests {
		assert.Equal(t, want, script.GJSONPath(in), in)
	}
}

func TestExpand(t *testing.T) {
	lookup := script.MapLookup(map[string]string{"id": "7", "host": "api"})
	assert.Equal(t, "http://api/items/7?x={{unknown}}", script.Expand("http://{{host}}/items/{{ id }}?x={{unknown}}", lookup))
	assert.Equal(t, "plain", script.Expand("plain", nil))
}

func TestExtract_From(t *testing.T) {
	resp := &httpx.Response{
		Status:  200,
		Body:    []byte(`{"token":"abc123","msg":"id=99"}`),
		Headers: http.Header{"Location": []string{"/things/5"}},
	}

	x, err := script.NewExtract("token", "body", "$.token", "")
	require.NoError(t, err)
	v, ok := x.From(resp)
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)

	x, err = script.NewExtract("id", "body", "msg", `id=(\d+)`)
	require.NoError(t, err)
	v, _ = x.From(resp)
	assert.Equal(t, "99", v)

	x, err = script.NewExtract("loc", "header", "Location", `\d+$`)
	require.NoError(t, err)
	v, _ = x.From(resp)
	assert.Equal(t, "5", v)

	x, err = script.NewExtract("code", "status", "", "")
	require.NoError(t, err)
	v, _ = x.From(resp)
	assert.Equal(t, "200", v)

	x, _ = script.NewExtract("missing", "body", "$.nope", "")
	_, ok = x.From(resp)
	assert.False(t, ok)

	_, err = script.NewExtract("bad", "cookie", "", "")
	assert.Error(t, err)
	_, err = script.NewExtract("bad", "header", "", "")
	assert.Error(t, err)
}

func TestThinkTime_Next(t *testing.T) {
	assert.Equal(t, time.Second, script.ThinkTime{Fixed: time.Second, Max: time.Hour}.Next())
	assert.Equal(t, time.Duration(0), script.ThinkTime{}.Next())

	tt := script.ThinkTime{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := tt.Next()
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.Less(t, d, 20*time.Millisecond)
	}
}

func TestPlan_Run(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			_, _ = w.Write([]byte(`{"token":"t-1"}`))
		case "/acme/messages":
			sawAuth = r.Header.Get("Authorization")
			_, _ = w.Write([]byte(`{"messages":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	extract, err := script.NewExtract("token", "body", "$.token", "")
	require.NoError(t, err)

	plan := &script.Plan{Groups: []script.Group{
		{Requests: []script.Request{{
			Name: "login", Method: "POST", URL: "/login",
			Extract: []script.Extract{extract},
		}}},
		{Name: "Messages API", Requests: []script.Request{
			{
				Name: "list", Method: "GET", URL: "/{{tenant}}/messages",
				Headers: map[string]string{"Authorization": "Bearer {{token}}"},
				Checks: []script.Check{
					mustCheck(t, script.CheckSpec{Name: "status is 200", Type: "status", Value: "200"}),
					mustCheck(t, script.CheckSpec{Name: "has messages", Type: "jsonpath", Path: "messages"}),
				},
			},
			{
				Name: "missing", Method: "GET", URL: "/missing",
				Checks: []script.Check{mustCheck(t, script.CheckSpec{Name: "found", Type: "status", Value: "200"})},
			},
		}},
	}}

	vu, reg := newVU(t, srv.URL)
	require.NoError(t, vu.RunIteration(context.Background(), plan.Scenario()))

	assert.Equal(t, "Bearer t-1", sawAuth)

	checks, _ := reg.Snapshot(metrics.ChecksName)
	assert.Equal(t, int64(3), checks.Count)
	assert.Equal(t, int64(2), checks.Passes)

	groups, _ := reg.Snapshot(metrics.GroupDurationName)
	assert.Equal(t, int64(1), groups.Count)

	reqs, _ := reg.Snapshot(metrics.HTTPReqsName)
	assert.Equal(t, 3.0, reqs.Sum)
}

func TestPlan_TransportErrorFailsIteration(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	plan := &script.Plan{Groups: []script.Group{{Requests: []script.Request{
		{Method: "GET", URL: "/a", Checks: []script.Check{mustCheck(t, script.CheckSpec{Type: "status", Value: "200"})}},
		{Method: "GET", URL: "/b"},
	}}}}

	vu, reg := newVU(t, url)
	err := vu.RunIteration(context.Background(), plan.Run)
	require.Error(t, err)

	reqs, _ := reg.Snapshot(metrics.HTTPReqsName)
	assert.Equal(t, 1.0, reqs.Sum, "the iteration stops at the first transport error")
	checks, _ := reg.Snapshot(metrics.ChecksName)
	assert.Equal(t, int64(1), checks.Fails)
}

func TestHook_SetupAndTeardown(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_, _ = w.Write([]byte(`{"id":"run-9"}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	x, err := script.NewExtract("runId", "body", "$.id", "")
	require.NoError(t, err)
	setup := &script.Hook{Requests: []script.Request{{Method: "POST", URL: "/runs", Extract: []script.Extract{x}}}}

	vu, _ := newVU(t, srv.URL)
	data, err := setup.Setup(context.Background(), vu)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"runId": "run-9"}, data)

	// A fresh VU sees setup data through its environment.
	reg := metrics.NewRegistry()
	b := metrics.RegisterBuiltins(reg)
	client := httpx.NewClient(httpx.Config{BaseURL: srv.URL}, b)
	defer client.Close()
	tvu := loadtest.NewVU(0, &loadtest.Env{Builtins: b, Client: client, SetupData: data}, metrics.Direct{Registry: reg})

	teardown := &script.Hook{Requests: []script.Request{{Method: "DELETE", URL: "/runs/{{runId}}"}}}
	require.NoError(t, teardown.Teardown(context.Background(), tvu, data))
	assert.Equal(t, "/runs/run-9", deleted)
}

func TestHook_FailingCheckIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	hook := &script.Hook{Requests: []script.Request{{
		Method: "POST", URL: "/login",
		Checks: []script.Check{mustCheck(t, script.CheckSpec{Name: "logged in", Type: "status", Value: "200"})},
	}}}
	vu, _ := newVU(t, srv.URL)
	_, err := hook.Setup(context.Background(), vu)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logged in")
}
