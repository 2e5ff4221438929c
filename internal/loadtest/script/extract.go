package script

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/rampvu/internal/loadtest/httpx"
)

// Extract captures a value from a response into a VU variable.
type Extract struct {
	Name string
	// Source is "body", "header" or "status".
	Source string
	// Path is a JSON path for body, a header name for header. An empty body
	// path captures the whole body.
	Path string
	// Regex, when set, is applied to the selected value; the first capture
	// group (or the whole match) is kept.
	Regex *regexpMatcher
}

// NewExtract builds an extraction; pattern may be empty.
func NewExtract(name, source, path, pattern string) (Extract, error) {
	switch source {
	case "", "body", "header", "status":
	default:
		return Extract{}, fmt.Errorf("extract %q: invalid source %q", name, source)
	}
	if source == "" {
		source = "body"
	}
	if source == "header" && path == "" {
		return Extract{}, fmt.Errorf("extract %q: header name is required", name)
	}

	x := Extract{Name: name, Source: source, Path: path}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Extract{}, fmt.Errorf("extract %q: %w", name, err)
		}
		x.Regex = &regexpMatcher{re: re}
	}
	return x, nil
}

// From pulls the value out of resp.
func (x Extract) From(resp *httpx.Response) (string, bool) {
	var v string
	switch x.Source {
	case "header":
		v = resp.Header(x.Path)
		if v == "" {
			return "", false
		}
	case "status":
		v = strconv.Itoa(resp.Status)
	default:
		if x.Path == "" {
			v = resp.Text()
			break
		}
		res := gjson.GetBytes(resp.Body, GJSONPath(x.Path))
		if !res.Exists() {
			return "", false
		}
		v = res.String()
	}

	if x.Regex != nil {
		return x.Regex.find(v)
	}
	return v, true
}

type regexpMatcher struct {
	re *regexp.Regexp
}

func (m *regexpMatcher) find(s string) (string, bool) {
	sub := m.re.FindStringSubmatch(s)
	switch {
	case sub == nil:
		return "", false
	case len(sub) > 1:
		return sub[1], true
	default:
		return sub[0], true
	}
}
