package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"agent-team-go/internal/config"
	"agent-team-go/internal/logger"
)

// ErrNotFound 记录或键不存在
var ErrNotFound = errors.New("记录不存在")

// Storage 聚合所有外部存储。除数据库外均为可选，初始化失败只记录警告
type Storage struct {
	SQL      *SQLStore
	Redis    *Redis
	RabbitMQ *RabbitMQ
	MinIO    *MinIO
}

// NewStorage 按配置初始化各组件；数据库不可用时返回错误
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, errors.New("配置不能为空")
	}
	log := logger.Component("storage")
	s := &Storage{}
	var warnings []string

	var err error
	s.SQL, err = NewSQLStore(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	if cfg.Redis.Address != "" {
		if s.Redis, err = NewRedis(&cfg.Redis); err != nil {
			warnings = append(warnings, fmt.Sprintf("Redis: %v", err))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		if s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ); err != nil {
			warnings = append(warnings, fmt.Sprintf("RabbitMQ: %v", err))
		} else if err := s.RabbitMQ.SetupTopology(); err != nil {
			warnings = append(warnings, fmt.Sprintf("RabbitMQ topology: %v", err))
		}
	}

	if cfg.MinIO.Enabled {
		if s.MinIO, err = NewMinIO(ctx, &cfg.MinIO); err != nil {
			warnings = append(warnings, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if len(warnings) > 0 {
		log.Warn().Str("failed", strings.Join(warnings, "; ")).Msg("部分存储组件初始化失败，相关功能不可用")
	}
	return s, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	log := logger.Component("storage")
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
	if s.SQL != nil {
		if err := s.SQL.Close(); err != nil {
			log.Error().Err(err).Msg("关闭数据库连接失败")
		}
	}
}
