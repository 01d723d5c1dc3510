package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"yqhp/load-engine/pkg/runner"
)

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <script.yaml>",
		Short: "校验测试脚本但不执行",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := loadScript(args[0], nil)
			if err != nil {
				return fmt.Errorf("解析测试脚本失败: %w", err)
			}

			// 与 run 相同的初始化检查，不发送任何请求
			r, err := runner.NewTestRunner(runner.Options{
				Script:          script,
				HTTP:            c.cfg.HTTP.Transport(),
				ExactTrendLimit: c.cfg.Engine.ExactTrendLimit,
			})
			if err != nil {
				return fmt.Errorf("初始化测试失败: %w", err)
			}

			w := cmd.OutOrStdout()
			for _, warning := range r.Warnings() {
				fmt.Fprintf(w, "警告: %s\n", warning)
			}
			fmt.Fprintf(w, "%s: 脚本有效 (%d 个请求, %d 个阈值)\n", script.Name, len(script.Requests), len(script.Thresholds))
			return nil
		},
	}
}
