package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"agent-team-go/internal/logger"
	"agent-team-go/internal/outbox"
	"agent-team-go/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "消费异步筛选任务并发布完成事件",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer a.close()
		if a.store.RabbitMQ == nil {
			return errors.New("worker 需要可用的 RabbitMQ")
		}

		screening, err := a.screeningService()
		if err != nil {
			return err
		}
		w := queue.NewWorker(a.store.RabbitMQ, screening, &cfg.RabbitMQ)
		relay := outbox.NewMessageRelay(a.store.SQL, a.store.RabbitMQ)

		logger.Info().Str("queue", cfg.RabbitMQ.ScreeningQueue).Msg("筛选 worker 已启动")
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return w.Run(gctx) })
		g.Go(func() error { return relay.Run(gctx) })
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}
