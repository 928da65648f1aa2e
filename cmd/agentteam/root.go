package main

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/spf13/cobra"

	"agent-team-go/internal/config"
	"agent-team-go/internal/logger"
	"agent-team-go/internal/tracing"
)

var (
	version = "1.0.0" //nolint:gochecknoglobals

	configFile string
	cfg        *config.Config
	shutdown   tracing.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:          "agentteam",
	Short:        "多智能体流水线：候选人筛选、智能体代码生成、技术博客写作",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		initLogger(cfg.Logger)

		shutdown, err = tracing.Init(cmd.Context(), tracing.Config{
			Enabled:        cfg.Tracing.Enabled,
			Endpoint:       cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			SampleRatio:    cfg.Tracing.SampleRatio,
		})
		return err
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		if shutdown == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn().Err(err).Msg("关闭链路追踪失败")
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, workerCmd, screenCmd, buildCmd, blogCmd, knowledgeCmd, checkCmd, configInitCmd)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径，为空时自动查找")
}

// initLogger 应用日志与 Hertz 日志共用同一个 zerolog 实例
func initLogger(c config.LoggerConfig) {
	logger.Init(logger.Config{
		Level:        c.Level,
		Format:       c.Format,
		TimeFormat:   c.TimeFormat,
		ReportCaller: c.ReportCaller,
	})
	hlog.SetLogger(hertzadapter.From(logger.Logger))
	if c.Level == "debug" {
		hlog.SetLevel(hlog.LevelDebug)
	} else {
		hlog.SetLevel(hlog.LevelInfo)
	}
}
