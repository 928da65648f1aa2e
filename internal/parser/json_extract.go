package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject 文本中找不到 JSON 对象
var ErrNoJSONObject = errors.New("文本中没有 JSON 对象")

// ExtractJSON 返回文本中第一个括号配平的 JSON 对象，忽略字符串里的括号
func ExtractJSON(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inStr := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inStr:
			escaped = true
		case c == '"':
			inStr = !inStr
		case inStr:
		case c == '{':
			level++
		case c == '}':
			level--
			if level == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// DecodeJSON 从模型输出中取出 JSON 对象并解码，第一次失败时修复字符串内未转义的引号后重试
func DecodeJSON(text string, v any) error {
	raw := ExtractJSON(text)
	if raw == "" {
		return ErrNoJSONObject
	}
	err := json.Unmarshal([]byte(raw), v)
	if err == nil {
		return nil
	}
	if err2 := json.Unmarshal([]byte(SanitizeJSON(raw)), v); err2 != nil {
		return fmt.Errorf("解析 JSON 失败: %w", err)
	}
	return nil
}

// SanitizeJSON 把字符串内部未转义的双引号改为 \"。
// 判断依据：引号后第一个非空白字符是 : , ] } 之一才视为字符串结束
func SanitizeJSON(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '"' && !escaped:
			if !inStr {
				inStr = true
				b.WriteByte(c)
				break
			}
			j := i + 1
			for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
				j++
			}
			if j >= len(src) || strings.IndexByte(":,]}", src[j]) >= 0 {
				inStr = false
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
			escaped = false
		case c == '\\' && !escaped:
			escaped = true
			b.WriteByte(c)
		default:
			b.WriteByte(c)
			escaped = false
		}
	}
	return b.String()
}
