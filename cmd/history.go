// File: cmd/history.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/attendant/internal/history"
)

// newHistoryCmd creates the `history` command, which lists run summaries from the JSON log.
func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		follow bool
		file   string
	)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs recorded in the log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = a.cfg.Logger().LogFile
			}
			if path == "" {
				return fmt.Errorf("no log file configured (logger.log_file)")
			}

			entries, err := history.Read(path, limit)
			if err != nil {
				return err
			}
			if err := history.Write(cmd.OutOrStdout(), entries); err != nil {
				return err
			}
			if !follow {
				return nil
			}

			return history.Follow(cmd.Context(), path, func(e history.Entry) {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				history.WriteRow(tw, e)
				tw.Flush()
			})
		},
	}

	historyCmd.Flags().IntVarP(&limit, "lines", "n", 20, "number of runs to show (0 for all)")
	historyCmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new runs as they finish")
	historyCmd.Flags().StringVar(&file, "file", "", "log file to read (default logger.log_file)")
	return historyCmd
}
