package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a compiled JSON schema.
type Schema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles an inline JSON schema document.
func CompileSchema(doc string) (*Schema, error) {
	if strings.TrimSpace(doc) == "" {
		return nil, errors.New("schema is empty")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	s, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// Valid reports whether body is JSON matching the schema.
func (s *Schema) Valid(body []byte) bool {
	return s.Validate(body) == nil
}

// Validate returns every violation, one per line.
func (s *Schema) Validate(body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	err := s.schema.Validate(doc)
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		if causes := flatten(verr); len(causes) > 0 {
			return errors.Join(causes...)
		}
	}
	return err
}

func flatten(err *jsonschema.ValidationError) []error {
	var out []error
	if err.Message != "" && len(err.Causes) == 0 {
		out = append(out, fmt.Errorf("%s: %s", err.InstanceLocation, err.Message))
	}
	for _, c := range err.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}
