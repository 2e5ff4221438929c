package script

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/wesleyorama2/rampvu/internal/loadtest"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Lookup resolves a variable name.
type Lookup func(name string) (string, bool)

// Vars resolves, in order: values extracted by this VU, setup data,
// run variables, then __VU and __ITER.
func Vars(vu *loadtest.VU) Lookup {
	return func(name string) (string, bool) {
		if v, ok := vu.Get(name); ok {
			return fmt.Sprint(v), true
		}
		if data, ok := vu.SetupData().(map[string]string); ok {
			if v, ok := data[name]; ok {
				return v, true
			}
		}
		if v, ok := vu.Vars()[name]; ok {
			return v, true
		}
		switch name {
		case "__VU":
			return strconv.Itoa(vu.ID()), true
		case "__ITER":
			return strconv.FormatInt(vu.Iteration(), 10), true
		}
		return "", false
	}
}

// MapLookup resolves names from m.
func MapLookup(m map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

// Expand replaces {{name}} placeholders. Unknown names are left as-is.
func Expand(s string, lookup Lookup) string {
	if lookup == nil {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := lookup(name); ok {
			return v
		}
		return m
	})
}

func expandMap(in map[string]string, lookup Lookup) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = Expand(v, lookup)
	}
	return out
}
