package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/httpx"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/ramp"
	"github.com/wesleyorama2/rampvu/internal/loadtest/script"
	"github.com/wesleyorama2/rampvu/internal/loadtest/threshold"
)

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// Compile validates the file and turns it into engine options running the
// declared request sequence. Observer and sinks are left for the caller.
func (c *TestConfig) Compile() (engine.Options, error) {
	errs := &ValidationErrors{}

	opts := engine.Options{
		Name:   c.Name,
		MaxVUs: c.Settings.MaxVUs,
		Vars:   c.variables(),
	}

	opts.HTTP = compileSettings(&c.Settings, errs)
	opts.Schedule = c.compileSchedule(errs)
	opts.Thresholds = compileThresholds(c.Thresholds, errs)
	c.compileOptions(&opts, errs)

	plan := compileScenario(&c.Scenario, errs)
	if plan != nil {
		opts.Scenario = plan.Run
	}
	if c.Setup != nil {
		hook := &script.Hook{Requests: compileRequests("setup.requests", c.Setup.Requests, errs)}
		opts.Setup = hook.Setup
	}
	if c.Teardown != nil {
		hook := &script.Hook{Requests: compileRequests("teardown.requests", c.Teardown.Requests, errs)}
		opts.Teardown = hook.Teardown
	}

	if errs.HasErrors() {
		return engine.Options{}, errs
	}
	return opts, nil
}

func (c *TestConfig) variables() map[string]string {
	vars := make(map[string]string, len(c.Variables)+1)
	for k, v := range c.Variables {
		vars[k] = v
	}
	if c.Settings.BaseURL != "" {
		if _, ok := vars["baseUrl"]; !ok {
			vars["baseUrl"] = c.Settings.BaseURL
		}
	}
	return vars
}

func compileSettings(s *GlobalSettings, errs *ValidationErrors) httpx.Config {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL %q", s.BaseURL))
		}
	}
	if s.RPS < 0 {
		errs.Add("settings.rps", "cannot be negative")
	}
	if s.MaxVUs < 0 {
		errs.Add("settings.maxVUs", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}

	return httpx.Config{
		BaseURL:             s.BaseURL,
		Timeout:             time.Duration(s.Timeout),
		Headers:             s.Headers,
		UserAgent:           s.UserAgent,
		RPS:                 s.RPS,
		MaxIdleConnsPerHost: s.MaxIdleConnsPerHost,
		InsecureSkipVerify:  s.InsecureSkipVerify,
	}
}

func (c *TestConfig) compileSchedule(errs *ValidationErrors) ramp.Schedule {
	if c.StartVUs < 0 {
		errs.Add("startVUs", "cannot be negative")
	}

	if len(c.Stages) == 0 {
		switch {
		case c.VUs <= 0 && c.Duration == 0:
			errs.Add("stages", "either stages or vus and duration are required")
		case c.VUs <= 0:
			errs.Add("vus", "vus must be greater than 0")
		case c.Duration <= 0:
			errs.Add("duration", "duration must be greater than 0")
		default:
			return ramp.Constant(c.VUs, time.Duration(c.Duration))
		}
		return ramp.Schedule{}
	}

	sched := ramp.Schedule{StartVUs: c.StartVUs}
	for i, st := range c.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		d, err := ParseDurationString(st.Duration)
		switch {
		case err != nil:
			errs.Addf(field+".duration", "invalid duration: %v", err)
		case d <= 0:
			errs.Add(field+".duration", "duration must be greater than 0")
		}
		if st.Target < 0 {
			errs.Add(field+".target", "target cannot be negative")
		}
		sched.Stages = append(sched.Stages, ramp.Stage{Duration: d, Target: st.Target, Name: st.Name})
	}
	return sched
}

func compileThresholds(cfg map[string][]ThresholdConfig, errs *ValidationErrors) threshold.Set {
	if len(cfg) == 0 {
		return nil
	}

	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)

	// Check metric names and statistics against the built-in metrics.
	reg := metrics.NewRegistry()
	metrics.RegisterBuiltins(reg)

	var set threshold.Set
	for _, name := range names {
		for i, tc := range cfg[name] {
			field := fmt.Sprintf("thresholds.%s[%d]", name, i)
			t, err := threshold.Parse(name, tc.Threshold)
			if err != nil {
				errs.Add(field, err.Error())
				continue
			}
			t.AbortOnFail = tc.AbortOnFail
			if tc.DelayAbortEval != "" {
				d, err := ParseDurationString(tc.DelayAbortEval)
				if err != nil {
					errs.Addf(field+".delayAbortEval", "invalid duration: %v", err)
				}
				t.DelayAbortEval = d
			}
			if err := (threshold.Set{t}).Validate(reg); err != nil {
				errs.Add(field, err.Error())
				continue
			}
			set = append(set, t)
		}
	}
	return set
}

func (c *TestConfig) compileOptions(opts *engine.Options, errs *ValidationErrors) {
	parse := func(field, s string) time.Duration {
		d, err := ParseDurationString(s)
		if err != nil {
			errs.Addf("options."+field, "invalid duration: %v", err)
		} else if d < 0 {
			errs.Add("options."+field, "cannot be negative")
		}
		return d
	}
	opts.GracefulStop = parse("gracefulStop", c.Options.GracefulStop)
	opts.TickInterval = parse("tickInterval", c.Options.TickInterval)
	opts.EvalInterval = parse("evalInterval", c.Options.EvalInterval)
	opts.TimeSeriesInterval = parse("timeSeriesInterval", c.Options.TimeSeriesInterval)
}

func compileScenario(sc *ScenarioConfig, errs *ValidationErrors) *script.Plan {
	if len(sc.Requests) == 0 && len(sc.Groups) == 0 {
		errs.Add("scenario", "at least one request or group is required")
		return nil
	}

	plan := &script.Plan{}
	if len(sc.Requests) > 0 {
		plan.Groups = append(plan.Groups, script.Group{
			Requests: compileRequests("scenario.requests", sc.Requests, errs),
		})
	}
	for i, g := range sc.Groups {
		field := fmt.Sprintf("scenario.groups[%d]", i)
		if strings.TrimSpace(g.Name) == "" {
			errs.Add(field+".name", "name is required")
		}
		if len(g.Requests) == 0 {
			errs.Add(field+".requests", "at least one request is required")
		}
		plan.Groups = append(plan.Groups, script.Group{
			Name:     g.Name,
			Requests: compileRequests(field+".requests", g.Requests, errs),
		})
	}

	if tt := sc.ThinkTime; tt != nil {
		plan.ThinkTime = compileThinkTime(tt, errs)
	}
	return plan
}

func compileThinkTime(tt *ThinkTimeConfig, errs *ValidationErrors) script.ThinkTime {
	var out script.ThinkTime
	var err error
	if out.Fixed, err = ParseDurationString(tt.Duration); err != nil {
		errs.Addf("scenario.thinkTime.duration", "invalid duration: %v", err)
	}
	if out.Min, err = ParseDurationString(tt.Min); err != nil {
		errs.Addf("scenario.thinkTime.min", "invalid duration: %v", err)
	}
	if out.Max, err = ParseDurationString(tt.Max); err != nil {
		errs.Addf("scenario.thinkTime.max", "invalid duration: %v", err)
	}
	if out.Min > out.Max && out.Max > 0 {
		errs.Add("scenario.thinkTime", "min must be less than or equal to max")
	}
	return out
}

func compileRequests(prefix string, reqs []RequestConfig, errs *ValidationErrors) []script.Request {
	out := make([]script.Request, 0, len(reqs))
	for i, rc := range reqs {
		out = append(out, compileRequest(fmt.Sprintf("%s[%d]", prefix, i), &rc, errs))
	}
	return out
}

func compileRequest(prefix string, rc *RequestConfig, errs *ValidationErrors) script.Request {
	method := strings.ToUpper(rc.Method)
	if method == "" {
		method = "GET"
	}
	if !validMethods[method] {
		errs.Addf(prefix+".method", "invalid HTTP method: %s", rc.Method)
	}

	if rc.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else if _, err := url.Parse(script.Expand(rc.URL, placeholder)); err != nil {
		errs.Addf(prefix+".url", "invalid URL: %v", err)
	}

	req := script.Request{
		Name:    rc.Name,
		Method:  method,
		URL:     rc.URL,
		Headers: rc.Headers,
		Body:    rc.Body,
	}

	var err error
	if req.ThinkTime, err = ParseDurationString(rc.ThinkTime); err != nil {
		errs.Addf(prefix+".thinkTime", "invalid thinkTime: %v", err)
	}

	for i, cc := range rc.Checks {
		check, err := script.NewCheck(script.CheckSpec{
			Name:      cc.Name,
			Type:      cc.Type,
			Condition: cc.Condition,
			Value:     cc.Value,
			Path:      cc.Path,
			Schema:    cc.Schema,
		})
		if err != nil {
			errs.Add(fmt.Sprintf("%s.checks[%d]", prefix, i), err.Error())
			continue
		}
		req.Checks = append(req.Checks, check)
	}

	for i, ec := range rc.Extract {
		field := fmt.Sprintf("%s.extract[%d]", prefix, i)
		if ec.Name == "" {
			errs.Add(field+".name", "name is required")
			continue
		}
		x, err := script.NewExtract(ec.Name, ec.Source, ec.Path, ec.Regex)
		if err != nil {
			errs.Add(field, err.Error())
			continue
		}
		req.Extract = append(req.Extract, x)
	}
	return req
}

// placeholder stands in for every {{var}} when checking URL syntax.
func placeholder(string) (string, bool) {
	return "placeholder", true
}
