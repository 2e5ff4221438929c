package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/rampvu/internal/loadtest/config"
)

func newValidateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}

			opts, err := cfg.Compile()
			if err != nil {
				var verrs *config.ValidationErrors
				if errors.As(err, &verrs) {
					out := cmd.ErrOrStderr()
					fmt.Fprintf(out, "%s: %d problem(s)\n", path, len(verrs.Errors))
					for _, e := range verrs.Errors {
						fmt.Fprintf(out, "  %s: %s\n", e.Field, e.Message)
					}
					return &exitError{code: ExitError, err: fmt.Errorf("%s is invalid", path)}
				}
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is valid\n", path)
			fmt.Fprintf(out, "  stages:     %d (%s, up to %d VUs)\n",
				len(opts.Schedule.Stages), opts.Schedule.TotalDuration(), opts.Schedule.MaxTarget())
			fmt.Fprintf(out, "  thresholds: %d\n", len(opts.Thresholds))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "Test configuration file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
