// Package cmd 提供 load-engine CLI 的命令实现
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/pkg/logger"

	// 导入所有输出插件
	_ "yqhp/load-engine/pkg/output/all"
)

const (
	// Version 是当前版本号
	Version = "0.1.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
          /\      |‾‾| load-engine %s
     /\  /  \     |  |
    /  \/    \    |  |
   /          \   |  |
  / __________ \  |__|
`
)

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// cli 保存全局 flags 和加载后的配置，子命令共享
type cli struct {
	cfgFile string
	debug   bool
	quiet   bool
	sets    []string

	cfg *config.Config
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "load-engine",
		Short: "HTTP 负载测试引擎",
		Long: `load-engine 按照 YAML 测试脚本对 HTTP 服务施加负载，
聚合指标、评估阈值，并以退出码报告结果。`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&c.debug, "debug", false, "启用调试日志")
	rootCmd.PersistentFlags().BoolVarP(&c.quiet, "quiet", "q", false, "静默模式")
	rootCmd.PersistentFlags().StringArrayVar(&c.sets, "set", nil, "覆盖配置项 (可多次指定)，格式: key.path=value")

	// 禁用默认的 completion 命令
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")

	rootCmd.AddCommand(
		newRunCmd(c),
		newValidateCmd(c),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// init 加载配置并初始化日志
func (c *cli) init() error {
	args := make(map[string]string, len(c.sets))
	for _, s := range c.sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok {
			return fmt.Errorf("无效的 --set 参数 %q，格式: key.path=value", s)
		}
		args[strings.TrimSpace(k)] = v
	}

	cfg, err := config.NewLoader().
		WithConfigPath(c.cfgFile).
		WithCmdArgs(args).
		Load()
	if err != nil {
		return err
	}

	switch {
	case c.debug:
		cfg.Logging.Level = "debug"
	case c.quiet:
		cfg.Logging.Level = "error"
	}
	logger.Init(&cfg.Logging)
	c.cfg = cfg
	return nil
}

// Execute 执行根命令并返回进程退出码
func Execute() int {
	return execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := NewRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	logger.Sync()
	if err == nil {
		return 0
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return 1
}
