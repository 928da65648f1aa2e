package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"agent-team-go/internal/config"
	"agent-team-go/internal/tracing"
)

const (
	defaultEmbeddingModel = "text-embedding-v3"
	defaultEmbeddingURL   = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"
	defaultDimensions     = 1024
	// 百炼单次请求最多 10 条文本
	maxEmbeddingBatch = 10
)

var embedTracer = otel.Tracer("agent-team-go/parser/embedding")

// AliyunEmbedder 通过 OpenAI 兼容接口生成向量，实现 eino embedding.Embedder
type AliyunEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
}

// NewAliyunEmbedder 未配置的字段使用默认值
func NewAliyunEmbedder(apiKey string, cfg config.EmbeddingConfig) (*AliyunEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("API 密钥不能为空")
	}
	e := &AliyunEmbedder{
		apiKey:     apiKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	if e.model == "" {
		e.model = defaultEmbeddingModel
	}
	if e.dimensions <= 0 {
		e.dimensions = defaultDimensions
	}
	if e.baseURL == "" {
		e.baseURL = defaultEmbeddingURL
	}
	return e, nil
}

// Dimensions 向量维度
func (a *AliyunEmbedder) Dimensions() int { return a.dimensions }

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	Dimensions     int      `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *embeddingError `json:"error,omitempty"`
}

// EmbedStrings 按批次请求，返回顺序与输入一致
func (a *AliyunEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	options := embedding.GetCommonOptions(&embedding.Options{Model: &a.model}, opts...)
	model := a.model
	if options.Model != nil && *options.Model != "" {
		model = *options.Model
	}

	ctx, span := embedTracer.Start(ctx, "Embedding.EmbedStrings",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("embedding.model", model),
			attribute.Int("embedding.texts", len(texts)),
		))
	defer span.End()

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbeddingBatch {
		end := start + maxEmbeddingBatch
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := a.embedBatch(ctx, model, texts[start:end])
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeLLM)
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (a *AliyunEmbedder) embedBatch(ctx context.Context, model string, texts []string) ([][]float64, error) {
	body, err := json.Marshal(embeddingRequest{
		Input:          texts,
		Model:          model,
		Dimensions:     a.dimensions,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("序列化向量化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送向量化请求失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取向量化响应失败: %w", err)
	}

	var parsed embeddingResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(data, &parsed) == nil && parsed.Error != nil {
			return nil, fmt.Errorf("向量化接口调用失败, 状态码 %d: %s (%s)", resp.StatusCode, parsed.Error.Message, parsed.Error.Code)
		}
		return nil, fmt.Errorf("向量化接口调用失败, 状态码 %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("解析向量化响应失败: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, fmt.Errorf("向量化接口返回错误: %s (%s)", parsed.Error.Message, parsed.Error.Code)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("向量数量 %d 与输入数量 %d 不一致", len(parsed.Data), len(texts))
	}

	vectors := make([][]float64, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("向量索引 %d 越界", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

var _ embedding.Embedder = (*AliyunEmbedder)(nil)
