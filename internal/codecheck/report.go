package codecheck

import (
	"fmt"
	"strings"
)

// FormatReport 渲染文本报告
func FormatReport(r Result) string {
	rule := strings.Repeat("=", 70)
	var b strings.Builder
	b.WriteString(rule + "\n代码检查报告\n" + rule + "\n")

	status := "❌ 无效"
	if r.Valid {
		status = "✅ 有效"
	}
	fmt.Fprintf(&b, "\n状态: %s\n得分: %d/100\n", status, r.Score)

	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n%s (%d):\n", title, len(items))
		for i, item := range items {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, item)
		}
	}
	section("❌ 错误", r.Errors)
	section("⚠️  警告", r.Warnings)
	section("💡 建议", r.Suggestions)

	if r.Valid && len(r.Warnings) == 0 && len(r.Suggestions) == 0 {
		b.WriteString("\n🎉 没有发现任何问题。\n")
	}
	b.WriteString("\n" + rule + "\n")
	return b.String()
}
