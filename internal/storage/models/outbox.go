package models

import "time"

// Outbox 消息状态
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 与业务数据同事务写入，由 relay 异步投递到 RabbitMQ
type OutboxMessage struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement"`
	AggregateID      string    `gorm:"type:varchar(36);not null;index"`
	EventType        string    `gorm:"type:varchar(255);not null"`
	Payload          string    `gorm:"type:text;not null"`
	TargetExchange   string    `gorm:"type:varchar(255);not null"`
	TargetRoutingKey string    `gorm:"type:varchar(255);not null"`
	Status           string    `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_outbox_status_created_at"`
	RetryCount       int       `gorm:"default:0"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index:idx_outbox_status_created_at,sort:asc"`
	ProcessedAt      *time.Time
	ErrorMessage     string `gorm:"type:text"`
}

// TableName 表名
func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
