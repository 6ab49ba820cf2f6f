package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/me/tasker/pkg/model"
)

func newEnqueueCmd() *cobra.Command {
	var (
		metaPairs []string
		metaJSON  string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <task-type>",
		Short: "Add a task to the queue",
		Example: `  tasker enqueue export --meta increment=20 --meta interval=500
  tasker enqueue script --meta-json '{"source": "return 6 * 7"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := parseMeta(metaJSON, metaPairs)
			if err != nil {
				return err
			}

			resp, err := client.Post(cmd.Context(), "/api/v1/tasks/", model.CreateTaskRequest{Task: args[0], Meta: meta})
			if err != nil {
				return fmt.Errorf("enqueue %s: %w", args[0], err)
			}
			var task model.Task
			if err := resp.decode(&task); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task queued: %s (%s)\n", task.ID, task.Status)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&metaPairs, "meta", nil, "Meta entry as key=value; numbers and booleans are converted (repeatable)")
	cmd.Flags().StringVar(&metaJSON, "meta-json", "", "Meta as a JSON object; --meta entries are applied on top")
	return cmd
}

// parseMeta builds task meta from a JSON object and key=value overrides.
func parseMeta(rawJSON string, pairs []string) (map[string]any, error) {
	meta := map[string]any{}
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &meta); err != nil {
			return nil, fmt.Errorf("parse --meta-json: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --meta %q (want key=value)", pair)
		}
		meta[key] = scalar(value)
	}
	return meta, nil
}

func scalar(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
