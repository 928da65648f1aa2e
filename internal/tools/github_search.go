package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agent-team-go/internal/config"
	"agent-team-go/internal/logger"
	"agent-team-go/internal/tracing"
)

const (
	// GitHubSearchToolName 模型看到的工具名
	GitHubSearchToolName = "github_search"
	defaultGitHubAPI     = "https://api.github.com"

	searchRepositories = "repositories"
	searchCode         = "code"
)

var githubTracer = otel.Tracer("agent-team-go/tools/github")

// ErrRateLimited GitHub 返回 403 且剩余额度为 0
var ErrRateLimited = errors.New("GitHub API 调用次数已用尽，请稍后再试或配置 token")

// GitHubSearch 搜索仓库和代码，结果整理成适合放进提示词的文本
type GitHubSearch struct {
	baseURL    string
	token      string
	perPage    int
	httpClient *http.Client
}

// NewGitHubSearch 未配置 token 时使用匿名额度；代码搜索必须有 token
func NewGitHubSearch(cfg config.GitHubConfig) *GitHubSearch {
	g := &GitHubSearch{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		perPage: cfg.PerPage,
	}
	if g.baseURL == "" {
		g.baseURL = defaultGitHubAPI
	}
	if g.perPage <= 0 {
		g.perPage = 5
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	g.httpClient = &http.Client{Timeout: timeout}
	return g
}

type repoItem struct {
	FullName    string   `json:"full_name"`
	Description string   `json:"description"`
	HTMLURL     string   `json:"html_url"`
	Language    string   `json:"language"`
	Stars       int      `json:"stargazers_count"`
	Forks       int      `json:"forks_count"`
	Topics      []string `json:"topics"`
}

type codeItem struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	HTMLURL    string `json:"html_url"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// SearchRepositories 按 star 降序
func (g *GitHubSearch) SearchRepositories(ctx context.Context, query, language string) (string, error) {
	var result struct {
		Items []repoItem `json:"items"`
	}
	if err := g.search(ctx, searchRepositories, query, language, "stars", g.perPage, &result); err != nil {
		return "", err
	}
	if len(result.Items) == 0 {
		return "没有找到相关仓库。", nil
	}

	var b strings.Builder
	for _, r := range result.Items {
		lang := r.Language
		if lang == "" {
			lang = "N/A"
		}
		desc := r.Description
		if desc == "" {
			desc = "无描述"
		}
		topics := r.Topics
		if len(topics) > 5 {
			topics = topics[:5]
		}
		fmt.Fprintf(&b, "仓库: %s\nStars: %d | Forks: %d\n描述: %s\n地址: %s\n语言: %s\n", r.FullName, r.Stars, r.Forks, desc, r.HTMLURL, lang)
		if len(topics) > 0 {
			fmt.Fprintf(&b, "主题: %s\n", strings.Join(topics, ", "))
		}
		b.WriteString("---\n")
	}
	return b.String(), nil
}

// SearchCode 按索引时间降序，最多 3 条
func (g *GitHubSearch) SearchCode(ctx context.Context, query, language string) (string, error) {
	if g.token == "" {
		return "", errors.New("GitHub 代码搜索需要配置 token")
	}
	var result struct {
		Items []codeItem `json:"items"`
	}
	limit := g.perPage
	if limit > 3 {
		limit = 3
	}
	if err := g.search(ctx, searchCode, query, language, "indexed", limit, &result); err != nil {
		return "", err
	}
	if len(result.Items) == 0 {
		return "没有找到相关代码示例。", nil
	}

	var b strings.Builder
	for _, item := range result.Items {
		fmt.Fprintf(&b, "文件: %s\n仓库: %s\n路径: %s\n地址: %s\n---\n", item.Name, item.Repository.FullName, item.Path, item.HTMLURL)
	}
	return b.String(), nil
}

func (g *GitHubSearch) search(ctx context.Context, kind, query, language, sort string, perPage int, out interface{}) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return errors.New("搜索关键词不能为空")
	}
	if language != "" {
		query += " language:" + language
	}

	ctx, span := githubTracer.Start(ctx, "GitHub.Search",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("github.kind", kind), attribute.String("github.query", query)))
	defer span.End()

	params := url.Values{}
	params.Set("q", query)
	params.Set("sort", sort)
	params.Set("order", "desc")
	params.Set("per_page", strconv.Itoa(perPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search/"+kind+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("创建 GitHub 请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return fmt.Errorf("请求 GitHub 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0" {
		tracing.RecordError(span, ErrRateLimited, tracing.ErrorTypeHTTP)
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("GitHub 搜索失败，状态码 %d", resp.StatusCode)
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析 GitHub 响应失败: %w", err)
	}
	logger.Ctx(ctx).Debug().Str("kind", kind).Str("query", query).Msg("GitHub 搜索完成")
	return nil
}

// Info 实现 tool.BaseTool
func (g *GitHubSearch) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: GitHubSearchToolName,
		Desc: "搜索 GitHub 上的仓库或代码示例。kind 为 repositories 时按 star 排序返回仓库，为 code 时返回代码文件。",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "搜索关键词，例如：vector database",
				Required: true,
			},
			"kind": {
				Type: schema.String,
				Desc: "搜索类型：repositories 或 code，默认 repositories",
				Enum: []string{searchRepositories, searchCode},
			},
			"language": {
				Type: schema.String,
				Desc: "编程语言过滤，例如：go, python",
			},
		}),
	}, nil
}

// InvokableRun 实现 tool.InvokableTool
func (g *GitHubSearch) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Query    string `json:"query"`
		Kind     string `json:"kind"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &args); err != nil {
		return "", fmt.Errorf("工具 %s 的参数解析失败: %w", GitHubSearchToolName, err)
	}
	switch args.Kind {
	case "", searchRepositories:
		return g.SearchRepositories(ctx, args.Query, args.Language)
	case searchCode:
		return g.SearchCode(ctx, args.Query, args.Language)
	default:
		return "", fmt.Errorf("不支持的搜索类型: %s", args.Kind)
	}
}

var _ tool.InvokableTool = (*GitHubSearch)(nil)
