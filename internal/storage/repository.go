package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"agent-team-go/internal/storage/models"
)

// NewOutboxMessage 序列化事件负载，生成待投递的 outbox 行
func NewOutboxMessage(aggregateID, eventType, exchange, routingKey string, payload interface{}) (*models.OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化事件 %s 失败: %w", eventType, err)
	}
	return &models.OutboxMessage{
		AggregateID:      aggregateID,
		EventType:        eventType,
		Payload:          string(body),
		TargetExchange:   exchange,
		TargetRoutingKey: routingKey,
		Status:           models.OutboxStatusPending,
	}, nil
}

// CreateScreeningJob 新建筛选批次
func (s *SQLStore) CreateScreeningJob(ctx context.Context, job *models.ScreeningJob) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("创建筛选批次 %s 失败: %w", job.JobID, err)
	}
	return nil
}

// UpdateScreeningJobStatus 只更新状态
func (s *SQLStore) UpdateScreeningJobStatus(ctx context.Context, jobID, status string) error {
	res := s.db.WithContext(ctx).Model(&models.ScreeningJob{}).Where("job_id = ?", jobID).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("更新筛选批次 %s 状态失败: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("筛选批次 %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// CompleteScreeningJob 在同一事务中写入全部候选人结果、更新批次统计并登记 outbox 事件。
// 全部候选人失败时批次记为 FAILED。
func (s *SQLStore) CompleteScreeningJob(ctx context.Context, jobID string, records []models.ScreeningRecord, resultsPath string, events ...*models.OutboxMessage) error {
	succeeded := 0
	for i := range records {
		records[i].JobID = jobID
		if records[i].Status == models.RecordStatusSucceeded {
			succeeded++
		}
	}
	status := models.JobStatusCompleted
	if len(records) > 0 && succeeded == 0 {
		status = models.JobStatusFailed
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(records) > 0 {
			if err := tx.CreateInBatches(records, 100).Error; err != nil {
				return fmt.Errorf("保存筛选结果失败: %w", err)
			}
		}

		res := tx.Model(&models.ScreeningJob{}).Where("job_id = ?", jobID).Updates(map[string]interface{}{
			"status":          status,
			"candidate_count": len(records),
			"succeeded_count": succeeded,
			"failed_count":    len(records) - succeeded,
			"results_path":    resultsPath,
		})
		if res.Error != nil {
			return fmt.Errorf("更新筛选批次失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("筛选批次 %s: %w", jobID, ErrNotFound)
		}

		for _, ev := range events {
			if ev == nil {
				continue
			}
			if err := tx.Create(ev).Error; err != nil {
				return fmt.Errorf("写入 outbox 事件失败: %w", err)
			}
		}
		return nil
	})
}

// GetScreeningJob 查询批次及其结果，结果按分数降序
func (s *SQLStore) GetScreeningJob(ctx context.Context, jobID string) (*models.ScreeningJob, error) {
	var job models.ScreeningJob
	err := s.db.WithContext(ctx).
		Preload("Records", func(db *gorm.DB) *gorm.DB {
			return db.Order("final_score DESC").Order("id ASC")
		}).
		Where("job_id = ?", jobID).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("筛选批次 %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("查询筛选批次 %s 失败: %w", jobID, err)
	}
	return &job, nil
}

// SaveAgentBuild 保存构建记录
func (s *SQLStore) SaveAgentBuild(ctx context.Context, build *models.AgentBuild) error {
	if err := s.db.WithContext(ctx).Save(build).Error; err != nil {
		return fmt.Errorf("保存构建记录 %s 失败: %w", build.RunID, err)
	}
	return nil
}

// SaveBlogPost 保存博客
func (s *SQLStore) SaveBlogPost(ctx context.Context, post *models.BlogPost) error {
	if err := s.db.WithContext(ctx).Save(post).Error; err != nil {
		return fmt.Errorf("保存博客 %s 失败: %w", post.RunID, err)
	}
	return nil
}

// PendingOutboxCount 待投递的 outbox 消息数
func (s *SQLStore) PendingOutboxCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.OutboxMessage{}).
		Where("status = ?", models.OutboxStatusPending).Count(&n).Error
	return n, err
}
