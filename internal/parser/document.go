package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextExtractor 把 PDF 转为文本
type TextExtractor interface {
	ExtractFile(ctx context.Context, path string) (string, error)
}

// LoadDocument 读取文本文件；.pdf 交给 extractor 处理
func LoadDocument(ctx context.Context, path string, extractor TextExtractor) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		if extractor == nil {
			return "", fmt.Errorf("没有可用的 PDF 解析器，无法读取 %s", path)
		}
		return extractor.ExtractFile(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("读取文件 %s 失败: %w", path, err)
	}
	return string(data), nil
}
