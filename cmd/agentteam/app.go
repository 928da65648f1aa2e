package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"agent-team-go/internal/agent"
	"agent-team-go/internal/artifact"
	"agent-team-go/internal/config"
	"agent-team-go/internal/knowledge"
	"agent-team-go/internal/llm"
	"agent-team-go/internal/logger"
	"agent-team-go/internal/parser"
	"agent-team-go/internal/service"
	"agent-team-go/internal/storage"
	"agent-team-go/internal/teams"
	"agent-team-go/internal/tools"
)

// app 进程内共享的依赖
type app struct {
	cfg     *config.Config
	store   *storage.Storage // 命令行模式下可能为 nil
	deps    teams.Deps
	tracker service.RunTracker
}

// newApp requireStore 为 false 时数据库不可用只记录警告，结果仍写到本地目录
func newApp(ctx context.Context, cfg *config.Config, requireStore bool) (*app, error) {
	a := &app{cfg: cfg}

	st, err := storage.NewStorage(ctx, cfg)
	switch {
	case err == nil:
		a.store = st
	case requireStore:
		return nil, err
	default:
		logger.Warn().Err(err).Msg("存储不可用，结果只写入本地目录")
	}

	chat, err := llm.NewFromConfig(cfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("初始化模型失败: %w", err)
	}

	a.deps = teams.Deps{
		Chat:   chat,
		Config: cfg,
		GitHub: tools.NewGitHubSearch(cfg.GitHub),
		Memory: agent.NewInMemoryChatMemory(),
	}
	if kb, err := newKnowledgeBase(cfg); err != nil {
		logger.Warn().Err(err).Msg("知识库不可用，文档专家将不带检索结果")
	} else {
		a.deps.Knowledge = kb
	}

	a.tracker = service.NewMemoryRunTracker()
	if a.store != nil && a.store.Redis != nil {
		a.tracker = storage.NewRunStore(a.store.Redis.Client, a.store.Redis.RunTTL())
		memory, err := agent.NewRedisChatMemory(a.store.Redis.Client, a.store.Redis.HistoryTTL())
		if err != nil {
			logger.Warn().Err(err).Msg("会话历史改用内存保存")
		} else {
			a.deps.Memory = memory
		}
	}
	return a, nil
}

func newEmbedder(cfg *config.Config) (*parser.AliyunEmbedder, error) {
	return parser.NewAliyunEmbedder(cfg.LLM.APIKey, cfg.LLM.Embedding)
}

func newKnowledgeBase(cfg *config.Config) (*knowledge.Base, error) {
	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	store := knowledge.NewQdrantStore(cfg.Qdrant)
	return knowledge.NewBase(embedder, store, cfg.Knowledge.SearchLimit, cfg.Knowledge.MinScore), nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

// writer MinIO 可用时代码包上传到对象存储，否则写本地目录
func (a *app) writer() artifact.Writer {
	if a.store != nil && a.store.MinIO != nil {
		return a.store.MinIO
	}
	return nil
}

func (a *app) screeningService() (*service.ScreeningService, error) {
	opts := []service.ScreeningOption{service.WithTracker(a.tracker)}
	if a.store != nil {
		opts = append(opts, service.WithRepository(a.store.SQL))
		if a.store.Redis != nil {
			opts = append(opts, service.WithLocker(a.store.Redis))
		}
	}
	return service.NewScreeningService(a.deps, a.cfg, opts...)
}

func (a *app) builderService() *service.BuilderService {
	var repo service.BuildRepository
	if a.store != nil {
		repo = a.store.SQL
	}
	return service.NewBuilderService(a.deps, a.cfg, a.writer(), repo, a.tracker)
}

func (a *app) blogService() *service.BlogService {
	var repo service.BlogRepository
	if a.store != nil {
		repo = a.store.SQL
	}
	return service.NewBlogService(a.deps, a.cfg, nil, repo, a.tracker)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
