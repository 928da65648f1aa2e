package router

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	hconfig "github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agent-team-go/internal/api/handler"
	"agent-team-go/internal/config"
	"agent-team-go/internal/metrics"
)

var errInvalidKey = errors.New("invalid api key")

// NewServer 创建带链路追踪的 Hertz 实例并注册路由
func NewServer(cfg *config.ServerConfig, h *handler.Handler, opts ...hconfig.Option) *server.Hertz {
	tracer, tracerCfg := hertztracing.NewServerTracer()
	opts = append([]hconfig.Option{
		server.WithHostPorts(cfg.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	}, opts...)
	srv := server.New(opts...)
	srv.Use(hertztracing.ServerMiddleware(tracerCfg))
	RegisterRoutes(srv, h, cfg.APIKeys)
	return srv
}

// RegisterRoutes 注册 API 路由；apiKeys 为空时 /api/v1 不鉴权
func RegisterRoutes(h *server.Hertz, hd *handler.Handler, apiKeys []string) {
	h.Use(accessLog(), observeHTTP())

	h.GET("/health", hd.Health)
	h.GET("/metrics", metricsHandler(promhttp.Handler()))

	api := h.Group("/api/v1")
	if len(apiKeys) > 0 {
		api.Use(apiKeyAuth(apiKeys))
	}

	api.POST("/screenings", hd.Screen)
	api.POST("/screenings/async", hd.SubmitScreening)
	api.GET("/screenings/:id", hd.GetScreening)
	api.POST("/builds", hd.Build)
	api.POST("/blog-posts", hd.WriteBlog)
	api.GET("/runs/:id", hd.GetRun)
}

// apiKeyAuth 校验 Authorization: Bearer <key>
func apiKeyAuth(keys []string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(_ context.Context, _ *app.RequestContext, key string) (bool, error) {
			for _, k := range keys {
				if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
					return true, nil
				}
			}
			return false, errInvalidKey
		}),
		keyauth.WithErrorHandler(func(_ context.Context, ctx *app.RequestContext, err error) {
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "未授权"})
		}),
	)
}

// metricsHandler 把 net/http 的处理器挂到 Hertz 上
func metricsHandler(next http.Handler) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		req, err := adaptor.GetCompatRequest(&ctx.Request)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		next.ServeHTTP(adaptor.GetCompatResponseWriter(&ctx.Response), req.WithContext(c))
	}
}

func accessLog() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		hlog.CtxInfof(c, "%s %s status=%d cost=%s", ctx.Method(), ctx.Path(), ctx.Response.StatusCode(), time.Since(start))
	}
}

// observeHTTP 标签使用路由模板而不是实际路径
func observeHTTP() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(string(ctx.Method()), route, strconv.Itoa(ctx.Response.StatusCode()), time.Since(start))
	}
}
