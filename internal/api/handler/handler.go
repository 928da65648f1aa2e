// Package handler HTTP 接口的请求处理
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/go-playground/validator/v10"

	"agent-team-go/internal/logger"
	"agent-team-go/internal/pipeline"
	"agent-team-go/internal/queue"
	"agent-team-go/internal/service"
	"agent-team-go/internal/storage"
	"agent-team-go/internal/storage/models"
)

// Screener 同步筛选与批次查询
type Screener interface {
	ScreenAll(ctx context.Context, job service.JobSpec, candidates []service.Candidate) (*service.ScreeningReport, error)
	GetJob(ctx context.Context, jobID string) (*models.ScreeningJob, error)
}

// JobRegistry 异步提交前登记批次
type JobRegistry interface {
	CreateScreeningJob(ctx context.Context, job *models.ScreeningJob) error
}

// JobSubmitter 异步筛选任务发布
type JobSubmitter interface {
	Submit(ctx context.Context, msg storage.ScreeningJobMessage) error
}

// Builder 生成智能体代码包
type Builder interface {
	Build(ctx context.Context, request string) (*service.BuildResult, error)
}

// Blogger 写技术博客
type Blogger interface {
	Write(ctx context.Context, topic, language string) (*service.BlogResult, error)
}

// RunReader 查询单次运行状态
type RunReader interface {
	RunStatus(ctx context.Context, runID string) (*storage.RunStatus, error)
}

var (
	_ Screener     = (*service.ScreeningService)(nil)
	_ JobRegistry  = (*storage.SQLStore)(nil)
	_ JobSubmitter = (*queue.Publisher)(nil)
	_ Builder      = (*service.BuilderService)(nil)
	_ Blogger      = (*service.BlogService)(nil)
	_ RunReader    = (*service.ScreeningService)(nil)
)

// Handler 汇总所有接口依赖；异步相关依赖为空时对应接口返回 503
type Handler struct {
	Screening Screener
	Jobs      JobRegistry
	Submitter JobSubmitter
	Builder   Builder
	Blog      Blogger
	Runs      RunReader

	validator *Validator
}

// NewHandler 创建处理器
func NewHandler(screening Screener, builder Builder, blog Blogger, runs RunReader) *Handler {
	return &Handler{
		Screening: screening,
		Builder:   builder,
		Blog:      blog,
		Runs:      runs,
		validator: NewValidator(),
	}
}

// WithAsync 启用异步筛选
func (h *Handler) WithAsync(jobs JobRegistry, submitter JobSubmitter) *Handler {
	h.Jobs = jobs
	h.Submitter = submitter
	return h
}

// Health 存活检查
func (h *Handler) Health(_ context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

// bind 解析 JSON 请求体并校验，失败时已写出 400
func (h *Handler) bind(ctx *app.RequestContext, req interface{}) bool {
	if err := ctx.BindJSON(req); err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法的 JSON"})
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "参数校验失败", "field": verrs[0].Namespace(), "rule": verrs[0].Tag()})
			return false
		}
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return false
	}
	return true
}

// fail 把领域错误映射为状态码
func fail(c context.Context, ctx *app.RequestContext, err error) {
	status := http.StatusInternalServerError
	body := utils.H{"error": err.Error()}

	var runErr *pipeline.RunError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrNoCandidates), errors.Is(err, service.ErrEmptyJob), errors.Is(err, service.ErrEmptyRequest):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrBatchInProgress):
		status = http.StatusConflict
	case errors.As(err, &runErr):
		// 流水线失败属于上游模型输出问题
		status = http.StatusBadGateway
		body["run_id"] = runErr.RunID
		body["stage"] = runErr.Stage
		body["attempts"] = runErr.Attempts
		if len(runErr.Missing) > 0 {
			body["missing"] = runErr.Missing
		}
	}
	if status >= http.StatusInternalServerError {
		logger.Ctx(c).Error().Err(err).Str("path", string(ctx.Path())).Msg("请求处理失败")
	}
	ctx.JSON(status, body)
}
