package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"agent-team-go/internal/config"
	"agent-team-go/internal/logger"
	"agent-team-go/internal/tracing"
)

var qdrantTracer = otel.Tracer("agent-team-go/knowledge/qdrant")

// PointIDNamespace 文档分块的确定性点ID命名空间，同一来源同一分块重复写入时覆盖
var PointIDNamespace = uuid.Must(uuid.FromString("fd6c72c2-5a33-4b53-8e7c-8298f3f5a7e1"))

// ErrDimensionMismatch 向量维度与集合不一致
var ErrDimensionMismatch = errors.New("向量维度与集合配置不一致")

// Point 待写入的向量点
type Point struct {
	ID      string
	Vector  []float64
	Payload map[string]interface{}
}

// ScoredPoint 检索结果
type ScoredPoint struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// QdrantStore 通过 REST 接口访问 Qdrant
type QdrantStore struct {
	endpoint   string
	collection string
	dimension  int
	distance   string
	apiKey     string
	httpClient *http.Client
}

// QdrantOption 构造选项
type QdrantOption func(*QdrantStore)

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(c *http.Client) QdrantOption {
	return func(q *QdrantStore) { q.httpClient = c }
}

// WithDistance 设置距离度量，默认 Cosine
func WithDistance(metric string) QdrantOption {
	return func(q *QdrantStore) { q.distance = metric }
}

// NewQdrantStore 只构造客户端，不访问网络
func NewQdrantStore(cfg config.QdrantConfig, opts ...QdrantOption) *QdrantStore {
	q := &QdrantStore{
		endpoint:   cfg.Endpoint,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		distance:   "Cosine",
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	if q.endpoint == "" {
		q.endpoint = "http://localhost:6333"
	}
	if q.collection == "" {
		q.collection = "agent_docs"
	}
	if q.dimension <= 0 {
		q.dimension = 1024
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Collection 集合名
func (q *QdrantStore) Collection() string { return q.collection }

// EnsureCollection 集合不存在时创建；已存在但配置不同只记录警告
func (q *QdrantStore) EnsureCollection(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.EnsureCollection", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := q.doRequest(ctx, http.MethodGet, "/collections/"+q.collection, nil, &info)
	if status == http.StatusNotFound {
		span.AddEvent("collection_not_found")
		body := map[string]interface{}{
			"vectors": map[string]interface{}{"size": q.dimension, "distance": q.distance},
		}
		if _, err := q.doRequest(ctx, http.MethodPut, "/collections/"+q.collection, body, nil); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return fmt.Errorf("创建集合 %s 失败: %w", q.collection, err)
		}
		logger.Info().Str("collection", q.collection).Int("dimension", q.dimension).Msg("已创建 Qdrant 集合")
		return nil
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("检查集合 %s 失败: %w", q.collection, err)
	}

	vectors := info.Result.Config.Params.Vectors
	if vectors.Size != q.dimension || vectors.Distance != q.distance {
		logger.Warn().
			Str("collection", q.collection).
			Int("existing_size", vectors.Size).
			Str("existing_distance", vectors.Distance).
			Int("expected_size", q.dimension).
			Msg("现有集合配置与当前配置不一致")
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Upsert 写入向量点并等待完成
func (q *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Upsert",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("points.count", len(points))))
	defer span.End()

	body := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != q.dimension {
			err := fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(p.Vector), q.dimension)
			tracing.RecordError(span, err, tracing.ErrorTypeValidation)
			return err
		}
		body = append(body, map[string]interface{}{"id": p.ID, "vector": p.Vector, "payload": p.Payload})
	}

	path := fmt.Sprintf("/collections/%s/points?wait=true", q.collection)
	if _, err := q.doRequest(ctx, http.MethodPut, path, map[string]interface{}{"points": body}, nil); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("写入向量点失败: %w", err)
	}
	return nil
}

// Search 按相似度降序返回，scoreThreshold<=0 时不过滤
func (q *QdrantStore) Search(ctx context.Context, vector []float64, limit int, scoreThreshold float64) ([]ScoredPoint, error) {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant.Search",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("search.limit", limit)))
	defer span.End()

	if len(vector) != q.dimension {
		err := fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(vector), q.dimension)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	req := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if scoreThreshold > 0 {
		req["score_threshold"] = scoreThreshold
	}

	var result struct {
		Result []ScoredPoint `json:"result"`
	}
	if _, err := q.doRequest(ctx, http.MethodPost, fmt.Sprintf("/collections/%s/points/search", q.collection), req, &result); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return nil, fmt.Errorf("检索向量失败: %w", err)
	}
	span.SetAttributes(attribute.Int("search.results", len(result.Result)))
	return result.Result, nil
}

// Count 集合中的点数
func (q *QdrantStore) Count(ctx context.Context) (int64, error) {
	var result struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/count", q.collection)
	if _, err := q.doRequest(ctx, http.MethodPost, path, map[string]interface{}{"exact": true}, &result); err != nil {
		return 0, err
	}
	return result.Result.Count, nil
}

// doRequest 返回状态码，非 2xx 时同时返回错误
func (q *QdrantStore) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("序列化请求体失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		return 0, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("请求 qdrant 失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("读取 qdrant 响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("qdrant API error: status=%d, body=%s", resp.StatusCode, string(respBody))
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("解析 qdrant 响应失败: %w", err)
		}
	}
	return resp.StatusCode, nil
}
