package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// WriteFailure 单个产物写入失败的记录
type WriteFailure struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

func (f WriteFailure) Error() string {
	return fmt.Sprintf("写入产物 %s 失败: %v", f.Name, f.Err)
}

// WriteReport 写入结果
type WriteReport struct {
	Location string         `json:"location"` // 目录或对象前缀
	Written  int            `json:"written"`
	Failures []WriteFailure `json:"failures,omitempty"`
}

// Writer 产物写入方，将产物写到目标目录下以产物名命名的文件
type Writer interface {
	Write(ctx context.Context, dir string, artifacts []Artifact) (WriteReport, error)
}

// Handoff 先校验名称再交给写入方；不安全的名称计入失败，其余照常写入
func Handoff(ctx context.Context, w Writer, dir string, artifacts []Artifact) (WriteReport, error) {
	safe, rejected := Sanitize(artifacts)

	report, err := w.Write(ctx, dir, safe)
	for _, rerr := range rejected {
		name := ""
		var unsafe *UnsafeArtifactName
		if errors.As(rerr, &unsafe) {
			name = unsafe.Name
		}
		report.Failures = append(report.Failures, WriteFailure{Name: name, Err: rerr})
	}
	return report, err
}

// FSWriter 写入本地文件系统
type FSWriter struct {
	Root string      // 根目录，dir 相对于它
	Perm os.FileMode // 文件权限，默认0644
}

// NewFSWriter 创建本地文件写入器
func NewFSWriter(root string) *FSWriter {
	return &FSWriter{Root: root, Perm: 0o644}
}

// Write 创建目录并逐个写入，单个文件失败不会中断其余文件
func (w *FSWriter) Write(ctx context.Context, dir string, artifacts []Artifact) (WriteReport, error) {
	target := filepath.Join(w.Root, dir)
	report := WriteReport{Location: target}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return report, fmt.Errorf("创建输出目录失败: %w", err)
	}

	perm := w.Perm
	if perm == 0 {
		perm = 0o644
	}

	for _, a := range artifacts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := ValidateName(a.Name); err != nil {
			report.Failures = append(report.Failures, WriteFailure{Name: a.Name, Err: err})
			continue
		}
		if err := os.WriteFile(filepath.Join(target, a.Name), []byte(a.Content), perm); err != nil {
			report.Failures = append(report.Failures, WriteFailure{Name: a.Name, Err: err})
			continue
		}
		report.Written++
	}
	return report, nil
}

// PackageDir 生成输出目录名 <safe_name>_<YYYYMMDD_HHMMSS>
func PackageDir(name string, now time.Time) string {
	return SafeDirName(name) + "_" + now.Format("20060102_150405")
}

// SafeDirName 将任意名称转换为小写、下划线分隔的目录名
func SafeDirName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var sb strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteRune('_')
		}
	}
	if sb.Len() == 0 {
		return "generated_agent"
	}
	return sb.String()
}
