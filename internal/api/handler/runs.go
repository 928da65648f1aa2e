package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// BuildRequest 一句话描述要生成的智能体
type BuildRequest struct {
	Request string `json:"request" validate:"notblank,max=8000"`
}

// BlogRequest 博客主题，language 限定示例代码搜索的语言
type BlogRequest struct {
	Topic    string `json:"topic" validate:"notblank,max=500"`
	Language string `json:"language" validate:"omitempty,max=32"`
}

// Build 同步生成代码包
func (h *Handler) Build(c context.Context, ctx *app.RequestContext) {
	var req BuildRequest
	if !h.bind(ctx, &req) {
		return
	}
	res, err := h.Builder.Build(c, req.Request)
	if err != nil {
		fail(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, res)
}

// WriteBlog 同步生成博客
func (h *Handler) WriteBlog(c context.Context, ctx *app.RequestContext) {
	var req BlogRequest
	if !h.bind(ctx, &req) {
		return
	}
	res, err := h.Blog.Write(c, req.Topic, req.Language)
	if err != nil {
		fail(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, res)
}

// GetRun 运行进度：所处阶段、尝试次数与缺少的产物
func (h *Handler) GetRun(c context.Context, ctx *app.RequestContext) {
	status, err := h.Runs.RunStatus(c, ctx.Param("id"))
	if err != nil {
		fail(c, ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, status)
}
