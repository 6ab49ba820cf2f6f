package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/tasker/pkg/model"
)

func newListCmd() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))

			resp, err := client.Get(cmd.Context(), "/api/v1/tasks/?"+q.Encode())
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			var tasks []model.Task
			if err := resp.decode(&tasks); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks found.")
				return nil
			}

			fmt.Fprintf(out, "%-41s  %-10s  %-9s  %6s  %s\n", "ID", "TASK", "STATUS", "PROG", "CREATED")
			fmt.Fprintf(out, "%-41s  %-10s  %-9s  %6s  %s\n", "--", "----", "------", "----", "-------")
			for _, task := range tasks {
				fmt.Fprintf(out, "%-41s  %-10s  %-9s  %5.0f%%  %s\n",
					task.ID, task.Type, task.Status, task.Progress, humanize.Time(task.CreatedAt))
				if task.ErrorMessage != "" {
					fmt.Fprintf(out, "  error: %s\n", task.ErrorMessage)
				}
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(tasks), resp.Pagination.Total)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only tasks with this status (QUEUED, RUNNING, FINISHED, ERROR)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of tasks")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of tasks to skip")
	return cmd
}
