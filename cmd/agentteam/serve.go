package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/spf13/cobra"

	"agent-team-go/internal/api/handler"
	"agent-team-go/internal/api/router"
	"agent-team-go/internal/outbox"
	"agent-team-go/internal/queue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.close()

		screening, err := a.screeningService()
		if err != nil {
			return err
		}
		hd := handler.NewHandler(screening, a.builderService(), a.blogService(), screening)
		if a.store.RabbitMQ != nil {
			hd.WithAsync(a.store.SQL, queue.NewPublisher(a.store.RabbitMQ, &cfg.RabbitMQ))
			relay := outbox.NewMessageRelay(a.store.SQL, a.store.RabbitMQ)
			go func() {
				if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					hlog.Errorf("消息中继退出: %v", err)
				}
			}()
		} else {
			hlog.Warn("RabbitMQ 不可用，异步筛选接口关闭")
		}

		h := router.NewServer(&cfg.Server, hd)
		go func() {
			defer cancel()
			if err := h.Run(); err != nil {
				hlog.Errorf("HTTP 服务退出: %v", err)
			}
		}()
		hlog.Infof("HTTP 服务已启动，监听地址: %s", cfg.Server.Address)

		<-ctx.Done()
		hlog.Info("接收到终止信号，正在优雅退出...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return h.Shutdown(shutdownCtx)
	},
}
