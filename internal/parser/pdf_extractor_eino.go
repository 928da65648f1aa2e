package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"

	"agent-team-go/internal/logger"
)

const defaultExtractTimeout = 30 * time.Second

// PDFExtractor 基于 eino PDF parser 把整份 PDF 提取为一段文本
type PDFExtractor struct {
	parser  *pdf.PDFParser
	timeout time.Duration
	log     zerolog.Logger
}

// NewPDFExtractor 不按页拆分
func NewPDFExtractor(ctx context.Context) (*PDFExtractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("创建 PDF 解析器失败: %w", err)
	}
	return &PDFExtractor{
		parser:  p,
		timeout: defaultExtractTimeout,
		log:     logger.Component("pdf"),
	}, nil
}

// ExtractFile 从文件路径提取文本
func (e *PDFExtractor) ExtractFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("打开 PDF 文件 %s 失败: %w", path, err)
	}
	defer f.Close()
	return e.Extract(ctx, f, path)
}

// ExtractBytes 从内存数据提取文本
func (e *PDFExtractor) ExtractBytes(ctx context.Context, data []byte, uri string) (string, error) {
	return e.Extract(ctx, bytes.NewReader(data), uri)
}

// Extract 多个文档时按顺序以空行拼接
func (e *PDFExtractor) Extract(ctx context.Context, r io.Reader, uri string) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	docs, err := e.parser.Parse(ctx, r, einoParser.WithURI(uri))
	if err != nil {
		return "", fmt.Errorf("解析 PDF %s 失败: %w", uri, err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("PDF %s 没有可提取的内容", uri)
	}

	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		parts = append(parts, doc.Content)
	}
	text := strings.TrimSpace(strings.Join(parts, "\n\n"))

	e.log.Debug().
		Str("uri", uri).
		Int("documents", len(docs)).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("PDF 文本提取完成")
	return text, nil
}
