package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"yqhp/load-engine/pkg/output/sqlite"
)

func newHistoryCmd() *cobra.Command {
	var (
		limit int
		runID string
	)
	historyCmd := &cobra.Command{
		Use:   "history <history.db>",
		Short: "查看 sqlite 输出记录的历史运行",
		Example: `  load-engine history history.db
  load-engine history history.db --run 0b6e3c1e-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := sqlite.OpenHistory(args[0])
			if err != nil {
				return fmt.Errorf("打开历史数据库失败: %w", err)
			}
			defer h.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if runID != "" {
				rows, err := h.Thresholds(cmd.Context(), runID)
				if err != nil {
					return fmt.Errorf("查询阈值失败: %w", err)
				}
				fmt.Fprintln(tw, "METRIC\tEXPRESSION\tRESULT\tVALUE\tREASON")
				for _, row := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%s\n", row.Metric, row.Expression, passFail(row.Passed), row.Value, row.Reason)
				}
				return nil
			}

			runs, err := h.Runs(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("查询历史失败: %w", err)
			}
			fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tDURATION\tREQUESTS\tSTATUS\tRESULT\tEXIT")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%d\n",
					run.ID, run.Name, run.StartedAt.Local().Format(time.DateTime),
					run.Duration.Round(time.Millisecond), run.Requests, run.Status, passFail(run.Passed), run.ExitCode)
			}
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "显示最近的运行数")
	historyCmd.Flags().StringVar(&runID, "run", "", "显示指定运行的阈值结果")
	return historyCmd
}

func passFail(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
