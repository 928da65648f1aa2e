package artifact

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsafeName 产物名称不安全
var ErrUnsafeName = errors.New("产物名称不安全")

// UnsafeArtifactName 名称包含路径分隔符或上级目录序列
type UnsafeArtifactName struct {
	Name   string
	Reason string
}

func (e *UnsafeArtifactName) Error() string {
	return fmt.Sprintf("%s: %q (%s)", ErrUnsafeName, e.Name, e.Reason)
}

func (e *UnsafeArtifactName) Unwrap() error {
	return ErrUnsafeName
}

// ValidateName 校验产物名称可以安全地作为目标目录下的相对文件名
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return &UnsafeArtifactName{Name: name, Reason: "名称为空"}
	case name == ".":
		return &UnsafeArtifactName{Name: name, Reason: "指向当前目录"}
	case strings.ContainsAny(name, `/\`):
		return &UnsafeArtifactName{Name: name, Reason: "包含路径分隔符"}
	case strings.Contains(name, ".."):
		return &UnsafeArtifactName{Name: name, Reason: "包含上级目录序列"}
	case strings.ContainsRune(name, 0):
		return &UnsafeArtifactName{Name: name, Reason: "包含空字符"}
	}
	return nil
}

// Sanitize 拆分出可以安全交给写入方的产物，不安全的产物单独返回错误
// 单个名称不合法不影响其余产物
func Sanitize(artifacts []Artifact) ([]Artifact, []error) {
	safe := make([]Artifact, 0, len(artifacts))
	var rejected []error
	for _, a := range artifacts {
		if err := ValidateName(a.Name); err != nil {
			rejected = append(rejected, err)
			continue
		}
		safe = append(safe, a)
	}
	return safe, rejected
}
