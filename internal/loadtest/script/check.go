package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/rampvu/internal/loadtest/httpx"
	"github.com/wesleyorama2/rampvu/internal/loadtest/threshold"
)

// Check types.
const (
	CheckStatus     = "status"
	CheckDuration   = "duration"
	CheckBody       = "body"
	CheckHeader     = "header"
	CheckJSONPath   = "jsonpath"
	CheckJSONSchema = "jsonschema"
)

// Conditions.
const (
	CondEq          = "eq"
	CondNe          = "ne"
	CondGt          = "gt"
	CondGte         = "gte"
	CondLt          = "lt"
	CondLte         = "lte"
	CondContains    = "contains"
	CondNotContains = "not_contains"
	CondMatches     = "matches"
	CondExists      = "exists"
	CondNotEmpty    = "not_empty"
	CondIn          = "in"
)

// CheckSpec is the declarative form of a check.
type CheckSpec struct {
	Name      string
	Type      string
	Condition string
	Value     string
	// Path is a header name for header checks and a JSON path
	// ("$.data.id" or gjson "data.id") for jsonpath checks.
	Path string
	// Schema is an inline JSON schema for jsonschema checks.
	Schema string
}

// Check is a compiled response predicate.
type Check struct {
	Name string
	eval func(*httpx.Response) bool
}

// Eval reports whether resp satisfies the check. Transport failures fail
// every check.
func (c Check) Eval(resp *httpx.Response) bool {
	if resp == nil || resp.Error != nil {
		return false
	}
	return c.eval(resp)
}

// NewCheck compiles spec. Regular expressions and schemas are compiled
// once, here.
func NewCheck(spec CheckSpec) (Check, error) {
	cond := strings.ToLower(spec.Condition)
	c := Check{Name: spec.Name}
	if c.Name == "" {
		c.Name = defaultCheckName(spec)
	}

	switch spec.Type {
	case CheckStatus:
		if cond == "" {
			cond = CondEq
		}
		pred, err := statusPredicate(cond, spec.Value)
		if err != nil {
			return Check{}, err
		}
		c.eval = func(r *httpx.Response) bool { return pred(r.Status) }

	case CheckDuration:
		if cond == "" {
			cond = CondLt
		}
		limit, err := durationMillis(spec.Value)
		if err != nil {
			return Check{}, fmt.Errorf("duration check %q: %w", c.Name, err)
		}
		cmp, err := numericCompare(cond)
		if err != nil {
			return Check{}, err
		}
		c.eval = func(r *httpx.Response) bool {
			return cmp(float64(r.Timings.Duration)/1e6, limit)
		}

	case CheckBody:
		if cond == "" {
			cond = CondContains
		}
		pred, err := stringPredicate(cond, spec.Value)
		if err != nil {
			return Check{}, err
		}
		c.eval = func(r *httpx.Response) bool { return pred(r.Text(), true) }

	case CheckHeader:
		if spec.Path == "" {
			return Check{}, fmt.Errorf("header check %q: path (header name) is required", c.Name)
		}
		if cond == "" {
			cond = CondExists
		}
		pred, err := stringPredicate(cond, spec.Value)
		if err != nil {
			return Check{}, err
		}
		c.eval = func(r *httpx.Response) bool {
			v := r.Header(spec.Path)
			return pred(v, v != "")
		}

	case CheckJSONPath:
		if spec.Path == "" {
			return Check{}, fmt.Errorf("jsonpath check %q: path is required", c.Name)
		}
		if cond == "" {
			cond = CondExists
		}
		path := GJSONPath(spec.Path)
		pred, err := jsonPredicate(cond, spec.Value)
		if err != nil {
			return Check{}, err
		}
		c.eval = func(r *httpx.Response) bool { return pred(r.JSON(path)) }

	case CheckJSONSchema:
		schema, err := CompileSchema(spec.Schema)
		if err != nil {
			return Check{}, fmt.Errorf("jsonschema check %q: %w", c.Name, err)
		}
		c.eval = func(r *httpx.Response) bool { return schema.Valid(r.Body) }

	default:
		return Check{}, fmt.Errorf("unknown check type %q", spec.Type)
	}
	return c, nil
}

func defaultCheckName(spec CheckSpec) string {
	cond := spec.Condition
	if cond == "" {
		cond = "is"
	}
	switch spec.Type {
	case CheckJSONSchema:
		return "body matches schema"
	case CheckHeader, CheckJSONPath:
		return strings.TrimSpace(fmt.Sprintf("%s %s %s", spec.Path, cond, spec.Value))
	default:
		return strings.TrimSpace(fmt.Sprintf("%s %s %s", spec.Type, cond, spec.Value))
	}
}

// statusPredicate understands "200", "200,201" with in, and "200-299"
// ranges with in.
func statusPredicate(cond, value string) (func(int) bool, error) {
	if cond == CondIn {
		var preds []func(int) bool
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if lo, hi, ok := strings.Cut(part, "-"); ok {
				l, err1 := strconv.Atoi(strings.TrimSpace(lo))
				h, err2 := strconv.Atoi(strings.TrimSpace(hi))
				if err1 != nil || err2 != nil || l > h {
					return nil, fmt.Errorf("invalid status range %q", part)
				}
				preds = append(preds, func(s int) bool { return s >= l && s <= h })
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid status %q", part)
			}
			preds = append(preds, func(s int) bool { return s == n })
		}
		return func(s int) bool {
			for _, p := range preds {
				if p(s) {
					return true
				}
			}
			return false
		}, nil
	}

	want, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid status %q", value)
	}
	cmp, err := numericCompare(cond)
	if err != nil {
		return nil, err
	}
	return func(s int) bool { return cmp(float64(s), float64(want)) }, nil
}

func numericCompare(cond string) (func(a, b float64) bool, error) {
	switch cond {
	case CondEq:
		return func(a, b float64) bool { return a == b }, nil
	case CondNe:
		return func(a, b float64) bool { return a != b }, nil
	case CondGt:
		return func(a, b float64) bool { return a > b }, nil
	case CondGte:
		return func(a, b float64) bool { return a >= b }, nil
	case CondLt:
		return func(a, b float64) bool { return a < b }, nil
	case CondLte:
		return func(a, b float64) bool { return a <= b }, nil
	}
	return nil, fmt.Errorf("condition %q is not a numeric comparison", cond)
}

// stringPredicate returns a predicate over (value, present).
func stringPredicate(cond, want string) (func(string, bool) bool, error) {
	switch cond {
	case CondEq:
		return func(s string, _ bool) bool { return s == want }, nil
	case CondNe:
		return func(s string, _ bool) bool { return s != want }, nil
	case CondContains:
		return func(s string, _ bool) bool { return strings.Contains(s, want) }, nil
	case CondNotContains:
		return func(s string, _ bool) bool { return !strings.Contains(s, want) }, nil
	case CondMatches:
		re, err := regexp.Compile(want)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", want, err)
		}
		return func(s string, _ bool) bool { return re.MatchString(s) }, nil
	case CondExists:
		return func(_ string, present bool) bool { return present }, nil
	case CondNotEmpty:
		return func(s string, _ bool) bool { return strings.TrimSpace(s) != "" }, nil
	}
	return nil, fmt.Errorf("unsupported condition %q", cond)
}

func jsonPredicate(cond, want string) (func(gjson.Result) bool, error) {
	switch cond {
	case CondExists:
		return func(r gjson.Result) bool { return r.Exists() }, nil
	case CondGt, CondGte, CondLt, CondLte:
		limit, err := strconv.ParseFloat(want, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", want)
		}
		cmp, _ := numericCompare(cond)
		return func(r gjson.Result) bool { return r.Exists() && cmp(r.Float(), limit) }, nil
	}
	pred, err := stringPredicate(cond, want)
	if err != nil {
		return nil, err
	}
	return func(r gjson.Result) bool { return r.Exists() && pred(r.String(), true) }, nil
}

// durationMillis parses "500ms", "1s" or a bare millisecond count.
func durationMillis(s string) (float64, error) {
	return threshold.ParseValue(strings.TrimSpace(s))
}
