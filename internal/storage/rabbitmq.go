package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"agent-team-go/internal/config"
	"agent-team-go/internal/logger"
)

// MessagePublisher 发布消息，outbox relay 依赖这一接口
type MessagePublisher interface {
	PublishMessage(ctx context.Context, exchange, routingKey string, body []byte, persistent bool) error
}

// RabbitMQ 发布共用一个通道，每个消费者独占一个通道
type RabbitMQ struct {
	conn      *amqp.Connection
	pubCh     *amqp.Channel
	pubMu     sync.Mutex
	declared  map[string]bool
	declareMu sync.Mutex
	cfg       *config.RabbitMQConfig
	log       zerolog.Logger
}

// NewRabbitMQ 建立连接和发布通道
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL配置不能为空")
	}
	conn, err := dialWithRetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("无法创建RabbitMQ通道: %w", err)
	}
	mq := &RabbitMQ{
		conn:     conn,
		pubCh:    ch,
		declared: make(map[string]bool),
		cfg:      cfg,
		log:      logger.Component("rabbitmq"),
	}
	mq.log.Info().Str("exchange", cfg.Exchange).Msg("已连接到RabbitMQ")
	return mq, nil
}

// dialWithRetry 连接失败时按 retry_interval 重试 max_retries 次
func dialWithRetry(cfg *config.RabbitMQConfig) (*amqp.Connection, error) {
	interval := config.GetDuration(cfg.RetryInterval, 5*time.Second)
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn().Err(lastErr).Int("attempt", attempt).Dur("wait", interval).Msg("连接RabbitMQ失败，稍后重试")
			time.Sleep(interval)
		}
		conn, err := amqp.Dial(cfg.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// SetupTopology 声明筛选任务的交换机、队列和绑定
func (r *RabbitMQ) SetupTopology() error {
	if err := r.EnsureExchange(r.cfg.Exchange, amqp.ExchangeTopic, true); err != nil {
		return err
	}
	if err := r.EnsureQueue(r.cfg.ScreeningQueue, true); err != nil {
		return err
	}
	return r.BindQueue(r.cfg.ScreeningQueue, r.cfg.Exchange, r.cfg.ScreeningRoutingKey)
}

func (r *RabbitMQ) once(key string, fn func() error) error {
	r.declareMu.Lock()
	defer r.declareMu.Unlock()
	if r.declared[key] {
		return nil
	}
	if err := fn(); err != nil {
		return err
	}
	r.declared[key] = true
	return nil
}

// EnsureExchange 声明交换机
func (r *RabbitMQ) EnsureExchange(name, kind string, durable bool) error {
	if name == "" {
		return errors.New("exchange名称不能为空")
	}
	return r.once("exchange:"+name, func() error {
		r.pubMu.Lock()
		defer r.pubMu.Unlock()
		if err := r.pubCh.ExchangeDeclare(name, kind, durable, false, false, false, nil); err != nil {
			return fmt.Errorf("声明exchange %s 失败: %w", name, err)
		}
		return nil
	})
}

// EnsureQueue 声明队列
func (r *RabbitMQ) EnsureQueue(name string, durable bool) error {
	if name == "" {
		return errors.New("queue名称不能为空")
	}
	return r.once("queue:"+name, func() error {
		r.pubMu.Lock()
		defer r.pubMu.Unlock()
		if _, err := r.pubCh.QueueDeclare(name, durable, false, false, false, nil); err != nil {
			return fmt.Errorf("声明queue %s 失败: %w", name, err)
		}
		return nil
	})
}

// BindQueue 绑定队列
func (r *RabbitMQ) BindQueue(queue, exchange, routingKey string) error {
	return r.once(fmt.Sprintf("binding:%s:%s:%s", exchange, queue, routingKey), func() error {
		r.pubMu.Lock()
		defer r.pubMu.Unlock()
		if err := r.pubCh.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("绑定 %s -> %s 失败: %w", exchange, queue, err)
		}
		return nil
	})
}

// amqpHeaderCarrier 通过消息头传播 trace 上下文
type amqpHeaderCarrier amqp.Table

func (c amqpHeaderCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c amqpHeaderCarrier) Set(key, value string) { c[key] = value }

func (c amqpHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = amqpHeaderCarrier{}

// PublishMessage 发布消息
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchange, routingKey string, body []byte, persistent bool) error {
	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, amqpHeaderCarrier(headers))

	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	return r.pubCh.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		Headers:      headers,
		DeliveryMode: mode,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
}

// PublishJSON 序列化后发布
func (r *RabbitMQ) PublishJSON(ctx context.Context, exchange, routingKey string, data interface{}, persistent bool) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("JSON序列化失败: %w", err)
	}
	return r.PublishMessage(ctx, exchange, routingKey, body, persistent)
}

// Handler 处理一条消息；返回错误时首次投递重新入队，重投仍失败则丢弃
type Handler func(ctx context.Context, body []byte) error

// Consume 阻塞消费直到 ctx 取消或通道关闭
func (r *RabbitMQ) Consume(ctx context.Context, queue string, prefetch int, handler Handler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("无法创建消费通道: %w", err)
	}
	defer ch.Close()

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("设置QoS失败: %w", err)
		}
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("注册消费者失败: %w", err)
	}
	r.log.Info().Str("queue", queue).Int("prefetch", prefetch).Msg("消费者已启动")

	for {
		select {
		case <-ctx.Done():
			r.log.Info().Str("queue", queue).Msg("消费者已停止")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("RabbitMQ通道已关闭")
			}
			msgCtx := otel.GetTextMapPropagator().Extract(ctx, amqpHeaderCarrier(d.Headers))
			if err := handler(msgCtx, d.Body); err != nil {
				requeue := !d.Redelivered
				r.log.Error().Err(err).Bool("requeue", requeue).Str("queue", queue).Msg("处理消息失败")
				if nackErr := d.Nack(false, requeue); nackErr != nil {
					r.log.Error().Err(nackErr).Msg("拒绝消息失败")
				}
				continue
			}
			if err := d.Ack(false); err != nil {
				r.log.Error().Err(err).Msg("确认消息失败")
			}
		}
	}
}

// Close 关闭通道与连接
func (r *RabbitMQ) Close() error {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	if r.pubCh != nil {
		r.pubCh.Close()
	}
	return r.conn.Close()
}
