package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/gofrs/uuid/v5"

	"agent-team-go/internal/logger"
)

// PDFExtractor 远程文档为 PDF 时使用
type PDFExtractor interface {
	ExtractBytes(ctx context.Context, data []byte, uri string) (string, error)
}

// Store 写入端
type Store interface {
	EnsureCollection(ctx context.Context) error
	Upsert(ctx context.Context, points []Point) error
}

// Loader 下载文档、分块、向量化后写入向量库
type Loader struct {
	embedder   embedding.Embedder
	store      Store
	pdf        PDFExtractor
	httpClient *http.Client
	chunkSize  int
	overlap    int
	batchSize  int
}

// NewLoader pdf 可为 nil
func NewLoader(embedder embedding.Embedder, store Store, pdf PDFExtractor, chunkSize, overlap int) *Loader {
	if chunkSize <= 0 {
		chunkSize = 1500
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}
	return &Loader{
		embedder:   embedder,
		store:      store,
		pdf:        pdf,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		chunkSize:  chunkSize,
		overlap:    overlap,
		batchSize:  50,
	}
}

// LoadURL 下载并写入，返回写入的分块数
func (l *Loader) LoadURL(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("创建下载请求失败: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("下载文档 %s 失败: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("下载文档 %s 失败，状态码 %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("读取文档 %s 失败: %w", url, err)
	}

	text := string(data)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/pdf") || strings.HasSuffix(strings.ToLower(url), ".pdf") {
		if l.pdf == nil {
			return 0, errors.New("没有可用的 PDF 解析器")
		}
		if text, err = l.pdf.ExtractBytes(ctx, data, url); err != nil {
			return 0, err
		}
	}
	return l.LoadText(ctx, url, text)
}

// LoadText 写入一段文本，点ID由来源和分块序号决定
func (l *Loader) LoadText(ctx context.Context, source, text string) (int, error) {
	chunks := Chunk(text, l.chunkSize, l.overlap)
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := l.store.EnsureCollection(ctx); err != nil {
		return 0, err
	}

	log := logger.Ctx(ctx)
	for start := 0; start < len(chunks); start += l.batchSize {
		end := start + l.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		vectors, err := l.embedder.EmbedStrings(ctx, chunks[start:end])
		if err != nil {
			return start, fmt.Errorf("向量化分块 %d-%d 失败: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return start, fmt.Errorf("向量数量 %d 与分块数量 %d 不一致", len(vectors), end-start)
		}

		points := make([]Point, 0, end-start)
		for i, vec := range vectors {
			idx := start + i
			points = append(points, Point{
				ID:     uuid.NewV5(PointIDNamespace, fmt.Sprintf("%s#%d", source, idx)).String(),
				Vector: vec,
				Payload: map[string]interface{}{
					payloadText:   chunks[idx],
					payloadSource: source,
					payloadChunk:  idx,
				},
			})
		}
		if err := l.store.Upsert(ctx, points); err != nil {
			return start, err
		}
		log.Debug().Str("source", source).Int("written", end).Int("total", len(chunks)).Msg("知识库写入进度")
	}

	log.Info().Str("source", source).Int("chunks", len(chunks)).Msg("文档已写入知识库")
	return len(chunks), nil
}

// Chunk 按段落累积到 size 个字符切分，超长段落硬切；相邻分块重叠 overlap 个字符
func Chunk(text string, size, overlap int) []string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	var current []rune
	// fresh 为 true 时 current 为空或只有上一块的重叠部分
	fresh := true
	flush := func() {
		chunks = append(chunks, strings.TrimSpace(string(current)))
		if overlap > 0 && len(current) > overlap {
			current = append([]rune(nil), current[len(current)-overlap:]...)
		} else {
			current = nil
		}
		fresh = true
	}

	for _, para := range strings.Split(text, "\n\n") {
		p := []rune(strings.TrimSpace(para))
		if len(p) == 0 {
			continue
		}
		if !fresh && len(current)+2+len(p) > size {
			flush()
		}
		if len(current) > 0 {
			current = append(current, '\n', '\n')
		}
		for len(current)+len(p) > size {
			room := size - len(current)
			if room <= 0 {
				current = nil
				continue
			}
			current = append(current, p[:room]...)
			p = p[room:]
			flush()
		}
		current = append(current, p...)
		fresh = false
	}
	if !fresh {
		flush()
	}
	return chunks
}
