package storage

import "time"

// 事件类型
const (
	EventScreeningRequested = "screening.requested"
	EventScreeningCompleted = "screening.completed"
)

// CandidateInput 一份待筛选的简历
type CandidateInput struct {
	Name   string `json:"name"`
	Resume string `json:"resume" validate:"required"`
}

// ScreeningJobMessage 异步筛选任务，由 API 发布，worker 消费
type ScreeningJobMessage struct {
	JobID          string           `json:"job_id"`
	Title          string           `json:"title,omitempty"`
	JobDescription string           `json:"job_description"`
	Candidates     []CandidateInput `json:"candidates"`
	SubmittedAt    time.Time        `json:"submitted_at"`
}

// RankedCandidate 完成事件中的排名条目
type RankedCandidate struct {
	Name           string `json:"name"`
	FinalScore     int    `json:"final_score"`
	Recommendation string `json:"recommendation"`
}

// ScreeningCompletedEvent 筛选批次结束后经 outbox 发布
type ScreeningCompletedEvent struct {
	JobID       string            `json:"job_id"`
	Status      string            `json:"status"`
	Total       int               `json:"total"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Ranking     []RankedCandidate `json:"ranking"`
	ResultsPath string            `json:"results_path,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}
