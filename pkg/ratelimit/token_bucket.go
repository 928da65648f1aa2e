package ratelimit

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"
)

// TokenBucket 令牌桶限流器，附带指数退避重试
type TokenBucket struct {
	mu         sync.Mutex
	rate       float64 // 每秒生成的令牌数
	capacity   float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time

	retryWait  time.Duration
	maxRetries int
}

// NewTokenBucket 按每分钟请求数创建限流器，capacity<=0 时取 qpm/2
func NewTokenBucket(qpm int, capacity int) *TokenBucket {
	if qpm <= 0 {
		qpm = 1
	}
	if capacity <= 0 {
		capacity = qpm / 2
		if capacity <= 0 {
			capacity = 1
		}
	}
	tb := &TokenBucket{
		rate:       float64(qpm) / 60.0,
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		now:        time.Now,
		retryWait:  time.Second,
		maxRetries: 3,
	}
	tb.lastRefill = tb.now()
	return tb
}

// WithRetryPolicy 设置重试策略
func (tb *TokenBucket) WithRetryPolicy(wait time.Duration, maxRetries int) *TokenBucket {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.retryWait = wait
	if maxRetries < 0 {
		maxRetries = 0
	}
	tb.maxRetries = maxRetries
	return tb
}

// refill 调用方需持有锁
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.lastRefill = now
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

// Allow 非阻塞地尝试获取一个令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait 阻塞直到获得令牌或 ctx 结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1.0 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}
		wait := time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// RetryWithBackoff 每次执行前先取令牌，可重试错误按 retryWait*2^n 退避
func (tb *TokenBucket) RetryWithBackoff(ctx context.Context, fn func() error) error {
	tb.mu.Lock()
	maxRetries, retryWait := tb.maxRetries, tb.retryWait
	tb.mu.Unlock()

	var err error
	for retry := 0; retry <= maxRetries; retry++ {
		if err = tb.Wait(ctx); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		if !IsRetryable(err) || retry >= maxRetries {
			return err
		}
		if serr := sleep(ctx, retryWait*time.Duration(1<<uint(retry))); serr != nil {
			return serr
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type temporary interface {
	Temporary() bool
}

var retryableMessages = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"too many requests",
	"rate limit",
	"server error",
	"503",
	"502",
	"429",
}

// IsRetryable 判断错误是否值得重试。调用方取消不重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range retryableMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
