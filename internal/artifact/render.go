package artifact

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnrenderable 产物无法按标记格式无损表示
var ErrUnrenderable = errors.New("产物无法序列化")

// Render 将产物按标记格式序列化，是 Parse 的逆操作
// 名称或内容无法无损往返时返回 ErrUnrenderable
func Render(artifacts []Artifact) (string, error) {
	var sb strings.Builder
	for i, a := range artifacts {
		if err := RenderableName(a.Name); err != nil {
			return "", err
		}
		if !FenceSafe(a.Content) {
			return "", fmt.Errorf("%w: %q 的内容包含围栏或标记行", ErrUnrenderable, a.Name)
		}
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(DefaultMarkerToken)
		sb.WriteString(" ")
		sb.WriteString(a.Name)
		sb.WriteString(" ")
		sb.WriteString(markerTail)
		sb.WriteString("\n")
		sb.WriteString(fenceDelimiter)
		sb.WriteString("\n")
		if a.Content != "" {
			sb.WriteString(a.Content)
			sb.WriteString("\n")
		}
		sb.WriteString(fenceDelimiter)
	}
	return sb.String(), nil
}

// RenderableName 名称写进标记行后能被 Parse 原样读回
func RenderableName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: 名称为空", ErrUnrenderable)
	case strings.TrimSpace(name) != name:
		return fmt.Errorf("%w: %q 首尾有空白", ErrUnrenderable, name)
	case strings.ContainsAny(name, "\r\n"):
		return fmt.Errorf("%w: %q 包含换行", ErrUnrenderable, name)
	case strings.Contains(name, markerTail):
		return fmt.Errorf("%w: %q 包含 %s", ErrUnrenderable, name, markerTail)
	}
	return nil
}

// FenceSafe 判断内容能否被 Render 无损表示
func FenceSafe(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "\r") {
			return false
		}
		if strings.HasPrefix(strings.TrimSpace(line), fenceDelimiter) || strings.Contains(line, DefaultMarkerToken) {
			return false
		}
	}
	return true
}
