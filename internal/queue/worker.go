// Package queue 异步筛选：API 发布任务，worker 消费并运行筛选服务
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"agent-team-go/internal/config"
	"agent-team-go/internal/logger"
	"agent-team-go/internal/service"
	"agent-team-go/internal/storage"
)

// Consumer storage.RabbitMQ 实现
type Consumer interface {
	Consume(ctx context.Context, queue string, prefetch int, handler storage.Handler) error
}

// Screener service.ScreeningService 实现
type Screener interface {
	ScreenAll(ctx context.Context, job service.JobSpec, candidates []service.Candidate) (*service.ScreeningReport, error)
}

var (
	_ Consumer = (*storage.RabbitMQ)(nil)
	_ Screener = (*service.ScreeningService)(nil)
)

// JSONPublisher storage.RabbitMQ 实现
type JSONPublisher interface {
	PublishJSON(ctx context.Context, exchange, routingKey string, data interface{}, persistent bool) error
}

var _ JSONPublisher = (*storage.RabbitMQ)(nil)

// Publisher 提交筛选任务
type Publisher struct {
	pub        JSONPublisher
	exchange   string
	routingKey string
}

// NewPublisher 交换机与路由键取自配置
func NewPublisher(pub JSONPublisher, cfg *config.RabbitMQConfig) *Publisher {
	return &Publisher{pub: pub, exchange: cfg.Exchange, routingKey: cfg.ScreeningRoutingKey}
}

// Submit 发布持久化消息
func (p *Publisher) Submit(ctx context.Context, msg storage.ScreeningJobMessage) error {
	if msg.SubmittedAt.IsZero() {
		msg.SubmittedAt = time.Now()
	}
	if err := p.pub.PublishJSON(ctx, p.exchange, p.routingKey, msg, true); err != nil {
		return fmt.Errorf("发布筛选任务 %s 失败: %w", msg.JobID, err)
	}
	return nil
}

// Worker 多个消费者并行处理筛选任务
type Worker struct {
	consumer Consumer
	screener Screener
	queue    string
	prefetch int
	workers  int
}

// NewWorker 消费者数量取 consumer_workers.screening_workers
func NewWorker(consumer Consumer, screener Screener, cfg *config.RabbitMQConfig) *Worker {
	workers := cfg.ConsumerWorkers["screening_workers"]
	if workers <= 0 {
		workers = 1
	}
	return &Worker{
		consumer: consumer,
		screener: screener,
		queue:    cfg.ScreeningQueue,
		prefetch: cfg.PrefetchCount,
		workers:  workers,
	}
}

// Run 阻塞直到 ctx 取消或任一消费者退出
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			return w.consumer.Consume(gctx, w.queue, w.prefetch, w.Handle)
		})
	}
	return g.Wait()
}

// Handle 处理一条消息。无法解析或内容无效的消息直接丢弃，只有可重试的错误才返回
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	log := logger.Ctx(ctx)

	var msg storage.ScreeningJobMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Error().Err(err).Msg("无法解析筛选任务，已丢弃")
		return nil
	}

	report, err := w.screener.ScreenAll(ctx, service.JobSpec{
		JobID:       msg.JobID,
		Title:       msg.Title,
		Description: msg.JobDescription,
	}, msg.Candidates)
	switch {
	case errors.Is(err, service.ErrNoCandidates), errors.Is(err, service.ErrEmptyJob):
		log.Error().Err(err).Str("job_id", msg.JobID).Msg("筛选任务无效，已丢弃")
		return nil
	case errors.Is(err, service.ErrBatchInProgress):
		log.Warn().Str("job_id", msg.JobID).Msg("批次已由其他实例处理")
		return nil
	case err != nil:
		return err
	}
	log.Info().Str("job_id", report.JobID).Int("succeeded", report.Succeeded).Int("failed", report.Failed).Msg("筛选任务完成")
	return nil
}
