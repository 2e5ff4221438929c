package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads, expands and parses a test file. The format follows the
// extension: .json is JSON, anything else YAML.
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses data after expanding ${VAR} references from the
// environment.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	return ParseConfigWithEnv(data, path, os.LookupEnv)
}

// ParseConfigWithEnv is ParseConfig with an explicit environment lookup.
// ${VAR:-default} falls back to default when VAR is unset; unknown
// variables without a default are left untouched.
func ParseConfigWithEnv(data []byte, path string, lookup func(string) (string, bool)) (*TestConfig, error) {
	expanded := ExpandEnv(string(data), lookup)

	var cfg TestConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return &cfg, nil
}

// ExpandEnv replaces ${VAR} and ${VAR:-default}. Bare $VAR is not expanded
// so JSON path expressions survive.
func ExpandEnv(s string, lookup func(string) (string, bool)) string {
	var sb strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		end += start

		sb.WriteString(s[:start])
		expr := s[start+2 : end]
		name, def, hasDef := strings.Cut(expr, ":-")
		if v, ok := lookup(name); ok && (v != "" || !hasDef) {
			sb.WriteString(v)
		} else if hasDef {
			sb.WriteString(def)
		} else {
			sb.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
}

// ParseDurationString parses a Go duration ("30s", "1h30m") or a bare
// integer number of seconds. The empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return 0, fmt.Errorf("invalid duration format: %s", s)
}
