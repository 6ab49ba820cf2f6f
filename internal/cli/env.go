package cli

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/tasker/pkg/model"
)

func newEnvCmd() *cobra.Command {
	var (
		interval time.Duration
		values   []string
	)
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Show or update the scheduler environment",
		Example: `  tasker env
  tasker env --interval 2500ms --set region=eu`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				resp *apiResponse
				err  error
			)
			if cmd.Flags().Changed("interval") || len(values) > 0 {
				patch := model.EnvironmentPatch{}
				if cmd.Flags().Changed("interval") {
					ms := interval.Milliseconds()
					patch.IntervalMS = &ms
				}
				if patch.Values, err = parseMeta("", values); err != nil {
					return err
				}
				resp, err = client.Put(cmd.Context(), "/api/v1/environment", patch)
			} else {
				resp, err = client.Get(cmd.Context(), "/api/v1/environment")
			}
			if err != nil {
				return fmt.Errorf("environment: %w", err)
			}

			var env model.Environment
			if err := resp.decode(&env); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scheduler: %s\n", env.Scheduler)
			fmt.Fprintf(out, "  Interval: %s\n", time.Duration(env.IntervalMS)*time.Millisecond)
			for _, k := range slices.Sorted(maps.Keys(env.Values)) {
				fmt.Fprintf(out, "  %s = %v\n", k, env.Values[k])
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "New tick interval, e.g. 2500ms")
	cmd.Flags().StringArrayVar(&values, "set", nil, "Environment value as key=value (repeatable)")
	return cmd
}
