package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"yqhp/load-engine/pkg/output"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "打印版本信息",
		Args:  cobra.NoArgs,
		// 不需要加载配置
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "load-engine %s (%s, %s/%s)\n", Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(w, "outputs: %v\n", output.List())
		},
	}
}
