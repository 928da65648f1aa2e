package handler

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"

	"agent-team-go/internal/logger"
	"agent-team-go/internal/service"
	"agent-team-go/internal/storage"
	"agent-team-go/internal/storage/models"
)

// ScreeningRequest 一个岗位与一批简历
type ScreeningRequest struct {
	JobID          string                   `json:"job_id" validate:"omitempty,max=64"`
	Title          string                   `json:"title" validate:"max=255"`
	JobDescription string                   `json:"job_description" validate:"notblank"`
	Candidates     []storage.CandidateInput `json:"candidates" validate:"required,min=1,dive"`
}

// AsyncScreeningResponse 异步提交的回执
type AsyncScreeningResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (r ScreeningRequest) job() service.JobSpec {
	return service.JobSpec{JobID: r.JobID, Title: r.Title, Description: r.JobDescription}
}

// Screen 同步筛选，返回完整报告
func (h *Handler) Screen(c context.Context, ctx *app.RequestContext) {
	var req ScreeningRequest
	if !h.bind(ctx, &req) {
		return
	}
	report, err := h.Screening.ScreenAll(c, req.job(), req.Candidates)
	if err != nil {
		fail(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, report)
}

// SubmitScreening 登记批次后发布到队列，由 worker 处理
func (h *Handler) SubmitScreening(c context.Context, ctx *app.RequestContext) {
	if h.Jobs == nil || h.Submitter == nil {
		ctx.JSON(consts.StatusServiceUnavailable, utils.H{"error": "异步筛选未启用"})
		return
	}
	var req ScreeningRequest
	if !h.bind(ctx, &req) {
		return
	}
	if req.JobID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			fail(c, ctx, err)
			return
		}
		req.JobID = id.String()
	}

	err := h.Jobs.CreateScreeningJob(c, &models.ScreeningJob{
		JobID:          req.JobID,
		Title:          req.Title,
		Description:    req.JobDescription,
		Status:         models.JobStatusPending,
		CandidateCount: len(req.Candidates),
	})
	if err != nil {
		fail(c, ctx, err)
		return
	}

	err = h.Submitter.Submit(c, storage.ScreeningJobMessage{
		JobID:          req.JobID,
		Title:          req.Title,
		JobDescription: req.JobDescription,
		Candidates:     req.Candidates,
		SubmittedAt:    time.Now(),
	})
	if err != nil {
		fail(c, ctx, err)
		return
	}
	logger.Ctx(c).Info().Str("job_id", req.JobID).Int("candidates", len(req.Candidates)).Msg("筛选任务已提交")
	ctx.JSON(consts.StatusAccepted, AsyncScreeningResponse{JobID: req.JobID, Status: models.JobStatusPending})
}

// GetScreening 批次状态与按分数排序的记录
func (h *Handler) GetScreening(c context.Context, ctx *app.RequestContext) {
	job, err := h.Screening.GetJob(c, ctx.Param("id"))
	if err != nil {
		fail(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, job)
}
