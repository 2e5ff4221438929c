package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rampvu/internal/loadtest/config"
	"github.com/wesleyorama2/rampvu/internal/loadtest/control"
	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/history"
	"github.com/wesleyorama2/rampvu/internal/loadtest/observe"
	"github.com/wesleyorama2/rampvu/internal/loadtest/output"
	"github.com/wesleyorama2/rampvu/internal/loadtest/report"
)

type runFlags struct {
	configPath string
	out        string
	html       string
	series     bool
	address    string
	history    string
	noHistory  bool
	quiet      bool
	noColor    bool
	logLevel   string
	logFormat  string
	logOutput  string
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test from a configuration file",
		Long: `Run executes the test described by a YAML or JSON file: setup requests,
the staged virtual-user schedule, teardown requests and the final threshold
verdict. The exit code is 99 when a threshold fails.

  rampvu run -c checkout.yaml
  rampvu run -c checkout.yaml --out summary.json --html report.html
  rampvu run -c checkout.yaml --address :6565`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTest(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "Test configuration file (YAML or JSON)")
	fl.StringVar(&f.out, "out", "", "Write a JSON summary to this file (- for stdout)")
	fl.BoolVar(&f.series, "out-timeseries", false, "Include the time series in the JSON summary")
	fl.StringVar(&f.html, "html", "", "Write an HTML report to this file, or into this directory with a generated name")
	fl.StringVar(&f.address, "address", "", "Serve the control API and /metrics on this address (e.g. :6565)")
	fl.StringVar(&f.history, "history", "", "History database (default ~/.rampvu/history.db)")
	fl.BoolVar(&f.noHistory, "no-history", false, "Do not record the run in the history database")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "Disable live progress output, show only the final summary")
	fl.BoolVar(&f.noColor, "no-color", false, "Disable colored output")
	fl.StringVar(&f.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	fl.StringVar(&f.logFormat, "log-format", "console", "Log format: console or json")
	fl.StringVar(&f.logOutput, "log-output", "stderr", "Log output: stdout, stderr or a file path")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runTest(cmd *cobra.Command, f *runFlags) error {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return err
	}
	opts, err := cfg.Compile()
	if err != nil {
		return err
	}

	logger, err := observe.NewLogger(observe.LoggerConfig{Level: f.logLevel, Format: f.logFormat, Output: f.logOutput})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	opts.Observer = observe.NewZapObserver(logger)

	if f.out != "" {
		opts.Sinks = append(opts.Sinks, report.JSONFile{Path: f.out, TimeSeries: f.series})
	}
	if isDirPath(f.html) {
		f.html = filepath.Join(f.html, reportName(cfg.Name))
	}
	if f.html != "" {
		if err := ensureDir(f.html); err != nil {
			return err
		}
		opts.Sinks = append(opts.Sinks, report.HTMLFile{Path: f.html, Description: cfg.Description})
	}
	if !f.noHistory {
		store, err := openHistory(f.history)
		if err != nil {
			logger.Warn("run history disabled", zap.Error(err))
		} else {
			defer store.Close()
			opts.Sinks = append(opts.Sinks, store)
		}
	}

	eng, err := engine.New(opts)
	if err != nil {
		return err
	}

	if f.address != "" {
		srv := control.NewServer(eng, logger)
		if err := srv.Start(f.address); err != nil {
			return err
		}
		logger.Info("control API listening", zap.String("address", srv.Addr()))
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	console := output.NewConsole(output.ConsoleConfig{
		TestName:       cfg.Name,
		TotalDuration:  opts.Schedule.TotalDuration(),
		UpdateInterval: time.Second,
		Writer:         cmd.OutOrStdout(),
		Quiet:          f.quiet,
		NoColor:        f.noColor,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopSignals := handleSignals(eng, cancel, logger)
	defer stopSignals()

	console.PrintHeader(eng.RunID())

	watchCtx, stopWatch := context.WithCancel(ctx)
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		console.Watch(watchCtx, eng)
	}()

	verdict, runErr := eng.Run(ctx)
	stopWatch()
	<-watched

	if verdict != nil {
		console.PrintSummary(verdict)
		for _, path := range []string{f.out, f.html} {
			if path != "" && path != "-" {
				fmt.Fprintf(cmd.OutOrStdout(), "Report: %s\n", path)
			}
		}
	}
	if runErr != nil {
		return runErr
	}
	if !verdict.Passed {
		return &exitError{code: ExitThresholdsFailed, err: errors.New("thresholds failed")}
	}
	return nil
}

// handleSignals stops the run gracefully on the first interrupt and
// cancels it on the second.
func handleSignals(eng *engine.Engine, cancel context.CancelFunc, logger *zap.Logger) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigs:
			logger.Warn("stopping run", zap.String("signal", sig.String()))
			eng.Stop("interrupted by " + sig.String())
		case <-done:
			return
		}
		select {
		case <-sigs:
			logger.Warn("second interrupt, cancelling run")
			cancel()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func openHistory(path string) (*history.Store, error) {
	if path == "" {
		def, err := history.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = def
	}
	return history.Open(path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

func isDirPath(path string) bool {
	if path == "" {
		return false
	}
	if strings.HasSuffix(path, "/") || strings.HasSuffix(path, string(filepath.Separator)) {
		return true
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func reportName(name string) string {
	safe := strings.ToLower(strings.NewReplacer(" ", "-", "/", "-").Replace(name))
	if safe == "" {
		safe = "run"
	}
	return fmt.Sprintf("rampvu-%s-%s.html", safe, time.Now().Format("20060102-150405"))
}
