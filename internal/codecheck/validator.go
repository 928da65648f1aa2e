// Package codecheck 对生成的 Agno Python 代码做静态检查并打分
package codecheck

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Result 检查结果
type Result struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
	Score       int      `json:"score"`
}

// 正确的导入写法，按名称索引
var correctImports = map[string]string{
	"Agent":           "from agno.agent import Agent",
	"Team":            "from agno.team import Team",
	"OpenAIChat":      "from agno.models.openai import OpenAIChat",
	"Claude":          "from agno.models.anthropic import Claude",
	"Groq":            "from agno.models.groq import Groq",
	"SqliteStorage":   "from agno.storage.sqlite import SqliteStorage",
	"MCPTools":        "from agno.tools.mcp import MCPTools",
	"DuckDuckGoTools": "from agno.tools.duckduckgo import DuckDuckGoTools",
	"YFinanceTools":   "from agno.tools.yfinance import YFinanceTools",
}

var incorrectImports = []string{
	"from agno.agents import Agent",
	"from agno.team.team import Team",
	"from agno.storage import AgentStorage",
	"from agno import Agent",
}

var modelImports = []string{
	"from agno.models.openai import",
	"from agno.models.anthropic import",
	"from agno.models.groq import",
}

var (
	agentDefinition = regexp.MustCompile(`(\w+)\s*=\s*Agent\s*\(`)
	modelParam      = regexp.MustCompile(`model\s*=\s*(\w+)\s*\(`)
	hardcodedKey    = regexp.MustCompile(`sk-[a-zA-Z0-9]{32,}`)
)

type checker struct {
	errors      []string
	warnings    []string
	suggestions []string
}

func (c *checker) errorf(format string, args ...interface{}) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

func (c *checker) warn(msg string)    { c.warnings = append(c.warnings, msg) }
func (c *checker) suggest(msg string) { c.suggestions = append(c.suggestions, msg) }

// Validate 检查一段 Python 源码
func Validate(code string) Result {
	c := &checker{}
	syntaxOK := c.checkSyntax(code)
	c.checkImports(code)
	c.checkPatterns(code)
	c.checkBestPractices(code)
	c.checkCommonMistakes(code)

	return Result{
		Valid:       syntaxOK && len(c.errors) == 0,
		Errors:      c.errors,
		Warnings:    c.warnings,
		Suggestions: c.suggestions,
		Score:       score(len(c.errors), len(c.warnings), len(c.suggestions)),
	}
}

// ValidateFile 读取失败时返回 0 分的无效结果
func ValidateFile(path string) Result {
	data, err := os.ReadFile(path)
	if err != nil {
		msg := fmt.Sprintf("读取文件失败: %v", err)
		if os.IsNotExist(err) {
			msg = fmt.Sprintf("文件不存在: %s", path)
		}
		return Result{Errors: []string{msg}}
	}
	return Validate(string(data))
}

func score(errors, warnings, suggestions int) int {
	s := 100 - 20*errors - 10*warnings - 5*suggestions
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// checkSyntax 括号配对检查，跳过字符串和注释
func (c *checker) checkSyntax(code string) bool {
	type open struct {
		ch   rune
		line int
	}
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	var stack []open
	line := 1
	runes := []rune(code)

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\n':
			line++
		case r == '#':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			i--
		case r == '"' || r == '\'':
			triple := i+2 < len(runes) && runes[i+1] == r && runes[i+2] == r
			end, lines, ok := skipString(runes, i, r, triple)
			if !ok {
				c.errorf("语法错误，第 %d 行: 字符串未闭合", line)
				return false
			}
			line += lines
			i = end
		case r == '(' || r == '[' || r == '{':
			stack = append(stack, open{ch: r, line: line})
		case r == ')' || r == ']' || r == '}':
			if len(stack) == 0 || stack[len(stack)-1].ch != pairs[r] {
				c.errorf("语法错误，第 %d 行: 多余的 '%c'", line, r)
				return false
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		c.errorf("语法错误，第 %d 行: '%c' 未闭合", top.line, top.ch)
		return false
	}
	return true
}

// skipString 返回字符串结束引号的位置和跨越的行数
func skipString(runes []rune, start int, quote rune, triple bool) (int, int, bool) {
	lines := 0
	i := start + 1
	if triple {
		i = start + 3
	}
	for ; i < len(runes); i++ {
		switch runes[i] {
		case '\\':
			i++
			if i < len(runes) && runes[i] == '\n' {
				lines++
			}
		case '\n':
			if !triple {
				return 0, 0, false
			}
			lines++
		case quote:
			if !triple {
				return i, lines, true
			}
			if i+2 < len(runes) && runes[i+1] == quote && runes[i+2] == quote {
				return i + 2, lines, true
			}
		}
	}
	return 0, 0, false
}

func (c *checker) checkImports(code string) {
	for n, line := range strings.Split(code, "\n") {
		for _, bad := range incorrectImports {
			if strings.Contains(line, bad) {
				c.errorf("第 %d 行: 错误的导入写法 '%s'", n+1, bad)
			}
		}
	}

	hasModel := false
	for _, imp := range modelImports {
		if strings.Contains(code, imp) {
			hasModel = true
			break
		}
	}
	usesAgent := strings.Contains(code, "Agent(")
	usesTeam := strings.Contains(code, "Team(")

	if usesAgent && !strings.Contains(code, correctImports["Agent"]) {
		c.errorf("缺少导入: %s", correctImports["Agent"])
	}
	if (usesAgent || usesTeam) && !hasModel {
		c.warn("没有导入模型提供方，可能需要导入一个模型")
	}
	if usesTeam && !strings.Contains(code, correctImports["Team"]) {
		c.errorf("缺少导入: %s", correctImports["Team"])
	}
}

func (c *checker) checkPatterns(code string) {
	if strings.Contains(code, "Agent(") {
		if !agentDefinition.MatchString(code) {
			c.warn("找到 Agent 但定义形式不清晰，应写成 agent_name = Agent(...)")
		}
		if !modelParam.MatchString(code) {
			c.errorf("Agent 必须指定 model 参数")
		}
	}
	if strings.Contains(code, "Team(") {
		if !strings.Contains(code, "members=") && !strings.Contains(code, "team=") {
			c.errorf("Team 必须通过 members 参数指定成员列表")
		}
		if !strings.Contains(code, "mode=") {
			c.suggest("建议为 Team 指定 mode 参数，例如 mode='coordinate'")
		}
	}
}

func (c *checker) checkBestPractices(code string) {
	if !strings.Contains(code, `"""`) && !strings.Contains(code, "'''") {
		c.suggest("建议添加模块文档字符串说明智能体的用途")
	}
	if strings.Contains(code, "API_KEY") && !strings.Contains(code, "os.getenv") && !strings.Contains(code, "os.environ") {
		c.warn("API 密钥应从环境变量读取")
	}
	if strings.Contains(code, "Agent(") && !strings.Contains(code, "instructions=") && !strings.Contains(code, "role=") {
		c.suggest("建议添加 instructions 或 role 参数引导智能体")
	}
	if strings.Contains(code, "__name__") && strings.Contains(code, "__main__") &&
		!strings.Contains(code, "try:") && !strings.Contains(code, "except:") {
		c.suggest("建议添加 try-except 处理错误")
	}
	if strings.Contains(code, "def ") && !strings.Contains(code, "->") {
		c.suggest("建议为函数签名添加类型注解")
	}
}

func (c *checker) checkCommonMistakes(code string) {
	if idx := strings.Index(code, "tools=["); idx >= 0 {
		rest := code[idx+len("tools=["):]
		if end := strings.Index(rest, "]"); end >= 0 {
			rest = rest[:end]
		}
		if strings.ContainsAny(rest, `"'`) {
			c.warn("tools 应该是工具对象而不是字符串，例如 DuckDuckGoTools()")
		}
	}
	if strings.Contains(code, "os.getenv") && !strings.Contains(code, "load_dotenv") {
		c.warn("使用了 os.getenv 但没有调用 load_dotenv()")
	}
	if hardcodedKey.MatchString(code) {
		c.errorf("安全问题: 检测到硬编码的 API 密钥，请改用环境变量")
	}
	if (strings.Contains(code, "agent.run") || strings.Contains(code, "agent.print_response")) &&
		(!strings.Contains(code, "__name__") || !strings.Contains(code, "__main__")) {
		c.suggest("建议把执行代码放在 if __name__ == '__main__': 中")
	}
	if strings.Contains(code, "Team(") && !strings.Contains(code, "add_history_to_messages") {
		c.suggest("建议为 Team 设置 add_history_to_messages=True 以保留对话上下文")
	}
}
