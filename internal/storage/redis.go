package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"agent-team-go/internal/config"
	"agent-team-go/internal/constants"
	"agent-team-go/internal/tracing"
)

// 运行状态
const (
	RunStatusRunning   = "RUNNING"
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
)

// Redis 封装客户端
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedis 连接 Redis 并挂上 OpenTelemetry 钩子
func NewRedis(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, errors.New("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		MaxRetries:   cfg.MaxRetries,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}
	return &Redis{Client: client, config: cfg}, nil
}

// RunTTL 运行记录保留时间
func (r *Redis) RunTTL() time.Duration {
	if r.config == nil || r.config.RunTTLHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(r.config.RunTTLHours) * time.Hour
}

// HistoryTTL 会话历史保留时间
func (r *Redis) HistoryTTL() time.Duration {
	if r.config == nil || r.config.HistoryTTLHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(r.config.HistoryTTLHours) * time.Hour
}

// Close 关闭连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return errors.New("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// AcquireLock 尝试获取分布式锁，未获取到时返回空字符串
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	token := uuid.Must(uuid.NewV4()).String()
	ok, err := r.Client.SetNX(ctx, lockKey, token, expiration).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
else
    return 0
end`)

// ReleaseLock 仅当锁仍由 token 持有时释放
func (r *Redis) ReleaseLock(ctx context.Context, lockKey, token string) (bool, error) {
	n, err := releaseLockScript.Run(ctx, r.Client, []string{lockKey}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// BatchLockKey 筛选批次锁
func BatchLockKey(jobID string) string {
	return fmt.Sprintf(constants.KeyBatchLock, jobID)
}

// RunStatus 一次流水线运行的进度快照
type RunStatus struct {
	RunID     string    `json:"run_id"`
	Team      string    `json:"team"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage,omitempty"`
	StageIdx  int       `json:"stage_index"`
	Attempt   int       `json:"attempt"`
	Missing   string    `json:"missing,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStore 在 Redis Hash 中保存运行状态
type RunStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRunStore ttl 为0时不过期
func NewRunStore(client redis.Cmdable, ttl time.Duration) *RunStore {
	return &RunStore{client: client, ttl: ttl}
}

// RunKey 运行状态的键
func RunKey(runID string) string {
	return fmt.Sprintf(constants.KeyRunStatus, runID)
}

// Update 合并写入字段并刷新过期时间
func (s *RunStore) Update(ctx context.Context, runID string, fields map[string]interface{}) error {
	key := RunKey(runID)
	values := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		values[k] = v
	}
	values["updated_at"] = time.Now().Format(time.RFC3339Nano)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, values)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("更新运行状态 %s 失败: %w", tracing.SafeRedisKey(key), err)
	}
	return nil
}

// Get 读取运行状态
func (s *RunStore) Get(ctx context.Context, runID string) (*RunStatus, error) {
	m, err := s.client.HGetAll(ctx, RunKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("读取运行 %s 状态失败: %w", runID, err)
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("运行 %s: %w", runID, ErrNotFound)
	}
	return runStatusFromHash(runID, m), nil
}

func runStatusFromHash(runID string, m map[string]string) *RunStatus {
	st := &RunStatus{
		RunID:   runID,
		Team:    m["team"],
		Status:  m["status"],
		Stage:   m["stage"],
		Missing: m["missing"],
		Error:   m["error"],
	}
	st.StageIdx, _ = strconv.Atoi(m["stage_index"])
	st.Attempt, _ = strconv.Atoi(m["attempt"])
	st.UpdatedAt, _ = time.Parse(time.RFC3339Nano, m["updated_at"])
	return st
}
