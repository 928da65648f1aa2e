package models

import (
	"time"

	"gorm.io/datatypes"
)

// 筛选批次状态
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// 单个候选人筛选结果状态
const (
	RecordStatusSucceeded = "SUCCEEDED"
	RecordStatusFailed    = "FAILED"
)

// ScreeningJob 一次岗位筛选批次
type ScreeningJob struct {
	JobID          string            `gorm:"primaryKey;type:varchar(36)" json:"job_id"`
	Title          string            `gorm:"type:varchar(255)" json:"title"`
	Description    string            `gorm:"type:text" json:"description"`
	Status         string            `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	CandidateCount int               `gorm:"not null;default:0" json:"candidate_count"`
	SucceededCount int               `gorm:"not null;default:0" json:"succeeded_count"`
	FailedCount    int               `gorm:"not null;default:0" json:"failed_count"`
	ResultsPath    string            `gorm:"type:varchar(512)" json:"results_path,omitempty"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	Records        []ScreeningRecord `gorm:"foreignKey:JobID;references:JobID" json:"records,omitempty"`
}

// TableName 表名
func (ScreeningJob) TableName() string {
	return "screening_jobs"
}

// ScreeningRecord 一个候选人的筛选结果，失败时记录最远阶段与错误
type ScreeningRecord struct {
	ID             uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID          string         `gorm:"type:varchar(36);not null;index" json:"job_id"`
	RunID          string         `gorm:"type:varchar(36);not null;uniqueIndex" json:"run_id"`
	CandidateName  string         `gorm:"type:varchar(255)" json:"candidate_name"`
	Email          string         `gorm:"type:varchar(255)" json:"email,omitempty"`
	Status         string         `gorm:"type:varchar(20);not null;index" json:"status"`
	FinalScore     int            `gorm:"not null;default:0" json:"final_score"`
	Recommendation string         `gorm:"type:varchar(20)" json:"recommendation,omitempty"`
	FailedStage    string         `gorm:"type:varchar(64)" json:"failed_stage,omitempty"`
	Attempts       int            `gorm:"not null;default:0" json:"attempts,omitempty"`
	MissingNames   datatypes.JSON `json:"missing_names,omitempty"`
	ErrorMessage   string         `gorm:"type:text" json:"error,omitempty"`
	Assessment     datatypes.JSON `json:"assessment,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 表名
func (ScreeningRecord) TableName() string {
	return "screening_records"
}

// AgentBuild 智能体构建团队的一次产出
type AgentBuild struct {
	RunID       string         `gorm:"primaryKey;type:varchar(36)" json:"run_id"`
	Request     string         `gorm:"type:text" json:"request"`
	PackageName string         `gorm:"type:varchar(255);index" json:"package_name"`
	Location    string         `gorm:"type:varchar(512)" json:"location"`
	Files       datatypes.JSON `json:"files"`
	Valid       bool           `json:"valid"`
	Score       int            `json:"score"`
	Report      string         `gorm:"type:text" json:"report"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 表名
func (AgentBuild) TableName() string {
	return "agent_builds"
}

// BlogPost 技术博客团队的一次产出
type BlogPost struct {
	RunID     string    `gorm:"primaryKey;type:varchar(36)" json:"run_id"`
	Topic     string    `gorm:"type:varchar(512)" json:"topic"`
	Language  string    `gorm:"type:varchar(64)" json:"language,omitempty"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 表名
func (BlogPost) TableName() string {
	return "blog_posts"
}
