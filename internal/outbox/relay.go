// Package outbox 把与业务数据同事务写入的事件异步投递到消息队列
package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"agent-team-go/internal/logger"
	"agent-team-go/internal/metrics"
	"agent-team-go/internal/storage"
	"agent-team-go/internal/storage/models"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	maxRetryCount          = 5
)

// MessageRelay 轮询 outbox 表并发布到消息代理
type MessageRelay struct {
	store           *storage.SQLStore
	db              *gorm.DB
	publisher       storage.MessagePublisher
	rowLocking      bool
	pollingInterval time.Duration
	batchSize       int
	log             zerolog.Logger
	tracer          trace.Tracer
}

// Option 配置项
type Option func(*MessageRelay)

// WithPollingInterval 轮询间隔
func WithPollingInterval(d time.Duration) Option {
	return func(r *MessageRelay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

// WithBatchSize 每批处理数量
func WithBatchSize(n int) Option {
	return func(r *MessageRelay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// NewMessageRelay 创建 relay；MySQL 下使用 FOR UPDATE SKIP LOCKED 支持多实例
func NewMessageRelay(store *storage.SQLStore, publisher storage.MessagePublisher, opts ...Option) *MessageRelay {
	r := &MessageRelay{
		store:           store,
		db:              store.DB(),
		publisher:       publisher,
		rowLocking:      store.Driver() == storage.DriverMySQL,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		log:             logger.Component("outbox"),
		tracer:          otel.Tracer("agent-team-go/outbox"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 阻塞轮询直到 ctx 取消
func (r *MessageRelay) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.pollingInterval).Msg("MessageRelay starting")
	ticker := time.NewTicker(r.pollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("MessageRelay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				r.log.Error().Err(err).Msg("处理待发送消息失败")
			}
			if n, err := r.store.PendingOutboxCount(ctx); err == nil {
				metrics.SetOutboxPending(n)
			}
		}
	}
}

// ProcessPending 处理一批待发送消息，返回本批数量。
// 发布失败的消息累加重试次数，达到上限后标记为 FAILED。
func (r *MessageRelay) ProcessPending(ctx context.Context) (int, error) {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	query := tx
	if r.rowLocking {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	err := query.Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Order("id asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, tx.Commit().Error
	}

	// 空轮询不建 span
	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))))
	defer span.End()

	for i := range messages {
		msg := &messages[i]
		err := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
		if err != nil {
			msg.RetryCount++
			msg.ErrorMessage = err.Error()
			if msg.RetryCount >= maxRetryCount {
				msg.Status = models.OutboxStatusFailed
			}
			r.log.Warn().Err(err).
				Uint64("id", msg.ID).
				Str("aggregate_id", msg.AggregateID).
				Int("retries", msg.RetryCount).
				Msg("发布 outbox 消息失败")
		} else {
			now := time.Now()
			msg.Status = models.OutboxStatusSent
			msg.ProcessedAt = &now
			msg.ErrorMessage = ""
		}

		// 更新失败时整批回滚，下次轮询重新拾取
		if err := tx.Save(msg).Error; err != nil {
			return 0, err
		}
	}
	return len(messages), tx.Commit().Error
}
