package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/tasker/internal/board"
)

func newBoardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show the progress board",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get(cmd.Context(), "/api/v1/board")
			if err != nil {
				return fmt.Errorf("board: %w", err)
			}
			var entries []board.Entry
			if err := resp.decode(&entries); err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Board is empty.")
				return nil
			}
			return board.Render(cmd.OutOrStdout(), entries)
		},
	}
}
