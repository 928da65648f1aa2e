package artifact

import (
	"strings"
)

const (
	// DefaultMarkerToken 产物开始标记中的关键字，完整格式为 "=== FILE: <name> ==="
	DefaultMarkerToken = "=== FILE:"
	markerTail         = "==="
	fenceDelimiter     = "```"
)

// Parser 基于标记行和代码围栏的产物解析器，无内部状态，可并发使用
type Parser struct {
	token string // 标记行识别关键字
}

// NewParser 创建使用默认标记语法的解析器
func NewParser() *Parser {
	return &Parser{token: DefaultMarkerToken}
}

// Parse 使用默认解析器解析文本
func Parse(text string) (*Set, error) {
	return NewParser().Parse(text)
}

// Parse 单次从左到右扫描文本，提取所有命名产物
// 只有围栏内部的行会被收集；围栏外的说明文字被丢弃
func (p *Parser) Parse(text string) (*Set, error) {
	result := NewSet()

	var (
		current     string   // 当前打开的产物名称
		open        bool     // 是否有打开的产物
		insideFence bool     // 是否处于围栏内
		buffer      []string // 当前产物累积的内容行
	)

	seal := func() {
		if open {
			result.put(current, strings.Join(buffer, "\n"))
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")

		if name, ok := p.markerName(line); ok {
			seal()
			current = name
			open = true
			buffer = nil
			insideFence = false
			continue
		}

		// 第一个标记之前的内容全部丢弃
		if !open {
			continue
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, fenceDelimiter) {
			// 单行围栏：```内容``` 直接收集内部文本，不改变围栏状态
			if inner, ok := inlineFenceBody(trimmed); ok {
				buffer = append(buffer, inner)
				continue
			}
			insideFence = !insideFence
			continue
		}

		if insideFence {
			buffer = append(buffer, line)
		}
	}

	// 未闭合的围栏也按已累积的内容封存
	seal()

	if result.Len() == 0 {
		return nil, ErrNoArtifacts
	}
	return result, nil
}

// markerName 判断是否为标记行并提取名称；名称为空的标记行不算标记
func (p *Parser) markerName(line string) (string, bool) {
	idx := strings.Index(line, p.token)
	if idx < 0 {
		return "", false
	}
	rest := line[idx+len(p.token):]
	if end := strings.Index(rest, markerTail); end >= 0 {
		rest = rest[:end]
	}
	name := strings.TrimSpace(rest)
	if name == "" {
		return "", false
	}
	return name, true
}

// inlineFenceBody 识别 ```...``` 形式的单行围栏
func inlineFenceBody(trimmed string) (string, bool) {
	if len(trimmed) <= 2*len(fenceDelimiter) || !strings.HasSuffix(trimmed, fenceDelimiter) {
		return "", false
	}
	return trimmed[len(fenceDelimiter) : len(trimmed)-len(fenceDelimiter)], true
}
