package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
)

const (
	payloadText   = "content_text"
	payloadSource = "source"
	payloadChunk  = "chunk_index"
)

// Passage 检索到的文档片段
type Passage struct {
	Text           string  `json:"text"`
	Source         string  `json:"source,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// VectorStore 向量检索后端
type VectorStore interface {
	Search(ctx context.Context, vector []float64, limit int, scoreThreshold float64) ([]ScoredPoint, error)
}

// Base 文档知识库：先向量化查询，再到向量库检索
type Base struct {
	embedder embedding.Embedder
	store    VectorStore
	limit    int
	minScore float64
}

// NewBase limit<=0 时默认 5
func NewBase(embedder embedding.Embedder, store VectorStore, limit int, minScore float64) *Base {
	if limit <= 0 {
		limit = 5
	}
	return &Base{embedder: embedder, store: store, limit: limit, minScore: minScore}
}

// Search 结果按相关度降序
func (b *Base) Search(ctx context.Context, query string) ([]Passage, error) {
	return b.search(ctx, query, b.limit, b.minScore)
}

func (b *Base) search(ctx context.Context, query string, limit int, minScore float64) ([]Passage, error) {
	if query == "" {
		return nil, errors.New("检索词不能为空")
	}
	vectors, err := b.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("向量化检索词失败: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("向量化结果数量异常: %d", len(vectors))
	}

	points, err := b.store.Search(ctx, vectors[0], limit, minScore)
	if err != nil {
		return nil, err
	}

	passages := make([]Passage, 0, len(points))
	for _, p := range points {
		if minScore > 0 && p.Score < minScore {
			continue
		}
		text, _ := p.Payload[payloadText].(string)
		source, _ := p.Payload[payloadSource].(string)
		passages = append(passages, Passage{Text: text, Source: source, RelevanceScore: p.Score})
	}
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].RelevanceScore > passages[j].RelevanceScore
	})
	return passages, nil
}

// Retrieve 实现 eino retriever.Retriever，TopK 和 ScoreThreshold 覆盖默认值
func (b *Base) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK := b.limit
	threshold := b.minScore
	options := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, ScoreThreshold: &threshold}, opts...)

	passages, err := b.search(ctx, query, *options.TopK, *options.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	docs := make([]*schema.Document, 0, len(passages))
	for _, p := range passages {
		doc := &schema.Document{
			Content:  p.Text,
			MetaData: map[string]any{payloadSource: p.Source},
		}
		docs = append(docs, doc.WithScore(p.RelevanceScore))
	}
	return docs, nil
}

var _ retriever.Retriever = (*Base)(nil)
