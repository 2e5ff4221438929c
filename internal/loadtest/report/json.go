package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
)

// JSON writes v as indented JSON. Time series are left out unless
// withSeries is set.
func JSON(w io.Writer, v *engine.Verdict, withSeries bool) error {
	if v == nil {
		return fmt.Errorf("verdict cannot be nil")
	}
	out := *v
	if !withSeries {
		out.TimeSeries = nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&out)
}

// JSONFile is a sink writing the JSON summary to Path. A Path of "-"
// writes to standard output.
type JSONFile struct {
	Path       string
	TimeSeries bool
}

// Flush implements engine.Sink.
func (j JSONFile) Flush(_ context.Context, v *engine.Verdict) error {
	if j.Path == "-" {
		return JSON(os.Stdout, v, j.TimeSeries)
	}

	f, err := os.Create(j.Path)
	if err != nil {
		return fmt.Errorf("create JSON report: %w", err)
	}
	if err := JSON(f, v, j.TimeSeries); err != nil {
		_ = f.Close()
		return fmt.Errorf("write JSON report: %w", err)
	}
	return f.Close()
}
