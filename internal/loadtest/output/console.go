// Package output renders a run on the terminal: a live progress display
// while the run is going and a summary of the verdict at the end.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	boxHorizontal  = "━"
	boxVertical    = "│"
	boxTopLeft     = "┌"
	boxTopRight    = "┐"
	boxBottomLeft  = "└"
	boxBottomRight = "┘"

	progressFilled = "█"
	progressEmpty  = "░"

	boxWidth = 57
)

// LiveStats is what the live display shows.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int
	TargetVUs int

	RPS           float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64
	Checks        float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration

	Phase        string
	CurrentStage int // 1-indexed
	TotalStages  int
}

// Source is what the live display polls; *engine.Engine satisfies it.
type Source interface {
	Status() engine.Status
	Snapshot() map[string]metrics.Snapshot
}

// StatsFrom builds live stats from a run's status and snapshots.
func StatsFrom(st engine.Status, snaps map[string]metrics.Snapshot, total time.Duration) *LiveStats {
	ls := &LiveStats{
		Progress:    st.Progress,
		Elapsed:     st.Elapsed,
		ActiveVUs:   st.ActiveVUs,
		TargetVUs:   st.TargetVUs,
		Phase:       string(st.Phase),
		TotalStages: st.Stages,
	}
	if st.Stage >= 0 {
		ls.CurrentStage = min(st.Stage+1, st.Stages)
	}
	if total > st.Elapsed {
		ls.Remaining = total - st.Elapsed
	}

	if s, ok := snaps[metrics.HTTPReqsName]; ok {
		ls.TotalRequests = int64(s.Sum)
		ls.RPS = s.Rate
	}
	if s, ok := snaps[metrics.HTTPReqFailedName]; ok {
		ls.Errors = s.Passes
		ls.ErrorRate = s.Rate
	}
	if s, ok := snaps[metrics.ChecksName]; ok {
		ls.Checks = s.Rate
	}
	if s, ok := snaps[metrics.HTTPReqDurationName]; ok {
		ls.LatencyP95 = metrics.Duration(s.P95)
		ls.LatencyAvg = metrics.Duration(s.Avg)
	}
	return ls
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	TestName       string
	TotalDuration  time.Duration
	UpdateInterval time.Duration
	Writer         io.Writer
	Quiet          bool
	NoColor        bool
	ForceTTY       bool
}

// Console writes progress and results for one run.
type Console struct {
	cfg   ConsoleConfig
	isTTY bool

	title, ok, warn, bad, dim, accent, value *color.Color

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a console. Live redrawing is only used when the
// writer is a terminal.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = time.Second
	}

	c := &Console{
		cfg:    cfg,
		isTTY:  cfg.ForceTTY || IsTerminal(cfg.Writer),
		title:  color.New(color.Bold),
		ok:     color.New(color.FgGreen),
		warn:   color.New(color.FgYellow),
		bad:    color.New(color.FgRed),
		dim:    color.New(color.Faint),
		accent: color.New(color.FgCyan),
		value:  color.New(color.FgMagenta),
	}

	useColor := c.isTTY && !cfg.NoColor && os.Getenv("NO_COLOR") == ""
	for _, col := range []*color.Color{c.title, c.ok, c.warn, c.bad, c.dim, c.accent, c.value} {
		if useColor {
			col.EnableColor()
		} else {
			col.DisableColor()
		}
	}
	return c
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// IsTTY reports whether live redrawing is used.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run banner.
func (c *Console) PrintHeader(runID string) {
	if c.cfg.Quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, boxWidth)
	c.writeln(c.accent.Sprint(line))
	c.writeln(c.title.Sprintf("%s - Running", c.name()))
	if runID != "" {
		c.writeln(c.dim.Sprintf("run %s", runID))
	}
	c.writeln(c.accent.Sprint(line))
	c.writeln("")
}

func (c *Console) name() string {
	if c.cfg.TestName == "" {
		return "load test"
	}
	return c.cfg.TestName
}

// Watch polls src every update interval until ctx is done, redrawing the
// live display on a terminal and printing one line per update otherwise.
func (c *Console) Watch(ctx context.Context, src Source) {
	if c.cfg.Quiet {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(c.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := StatsFrom(src.Status(), src.Snapshot(), c.cfg.TotalDuration)
			if c.isTTY {
				c.Update(stats)
			} else {
				c.PrintLine(stats)
			}
		}
	}
}

// Update redraws the live display.
func (c *Console) Update(stats *LiveStats) {
	if c.cfg.Quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLocked()
	lines := c.renderLive(stats)
	c.linesOutput = len(lines)
	for _, l := range lines {
		c.writeln(l)
	}
}

// PrintLine prints a one-line status, for logs and CI.
func (c *Console) PrintLine(stats *LiveStats) {
	if c.cfg.Quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %3.0f%% | stage %d/%d %s | VUs %d/%d | reqs %d | %.1f/s | errors %d (%.1f%%) | p95 %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.CurrentStage, stats.TotalStages, stats.Phase,
		stats.ActiveVUs, stats.TargetVUs,
		stats.TotalRequests,
		stats.RPS,
		stats.Errors, stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

func (c *Console) clearLocked() {
	if !c.isTTY || c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

func (c *Console) renderLive(stats *LiveStats) []string {
	var lines []string

	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.ok.Sprint(progressBar(stats.Progress, 40)),
		c.title.Sprintf("%.0f%%", stats.Progress*100),
		c.dim.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))))

	stage := stats.Phase
	if stats.TotalStages > 0 {
		stage = fmt.Sprintf("%s (%d/%d)", stats.Phase, stats.CurrentStage, stats.TotalStages)
	}
	lines = append(lines, "Stage:    "+c.value.Sprint(stage), "")

	lines = append(lines, c.dim.Sprint(boxTopLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxTopRight))
	lines = append(lines, c.boxRow(
		fmt.Sprintf("VUs:     %s / %d", c.accent.Sprint(stats.ActiveVUs), stats.TargetVUs),
		fmt.Sprintf("Requests: %s", c.accent.Sprint(formatNumber(stats.TotalRequests)))))

	errColor := c.rateColor(stats.ErrorRate, 0.01, 0.05)
	lines = append(lines, c.boxRow(
		fmt.Sprintf("RPS:     %s", c.ok.Sprintf("%.1f", stats.RPS)),
		fmt.Sprintf("Errors:   %s", errColor.Sprintf("%d (%.1f%%)", stats.Errors, stats.ErrorRate*100))))
	lines = append(lines, c.boxRow(
		fmt.Sprintf("P95:     %s", c.accent.Sprint(formatDurationShort(stats.LatencyP95))),
		fmt.Sprintf("Avg:      %s", c.accent.Sprint(formatDurationShort(stats.LatencyAvg)))))
	lines = append(lines, c.dim.Sprint(boxBottomLeft+strings.Repeat(boxHorizontal, boxWidth-2)+boxBottomRight))

	return lines
}

func (c *Console) rateColor(rate, warnAt, badAt float64) *color.Color {
	switch {
	case rate > badAt:
		return c.bad
	case rate > warnAt:
		return c.warn
	default:
		return c.ok
	}
}

func (c *Console) boxRow(left, right string) string {
	col := (boxWidth - 4) / 2
	pad := func(s string) string {
		n := col - visibleLen(s)
		if n < 0 {
			n = 0
		}
		return s + strings.Repeat(" ", n)
	}
	v := c.dim.Sprint(boxVertical)
	return fmt.Sprintf("%s %s%s %s%s", v, pad(left), v, pad(right), v)
}

func (c *Console) write(s string) {
	fmt.Fprint(c.cfg.Writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.cfg.Writer, s)
}

func progressBar(progress float64, width int) string {
	progress = max(0, min(progress, 1))
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}
