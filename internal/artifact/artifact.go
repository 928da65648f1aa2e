package artifact

import "errors"

// ErrNoArtifacts 文本中没有找到任何产物标记
var ErrNoArtifacts = errors.New("未解析到任何产物")

// Artifact 从阶段输出中提取出的一个命名产物（通常对应一个文件）
type Artifact struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Set 一次解析得到的产物集合，按名称首次出现的顺序保存
// 同名产物后出现者覆盖先出现者的内容，但保留原有位置
type Set struct {
	order []string
	items map[string]string
}

// NewSet 创建空集合
func NewSet() *Set {
	return &Set{items: make(map[string]string)}
}

// put 写入产物，同名时覆盖（last-wins）
func (s *Set) put(name, content string) {
	if _, exists := s.items[name]; !exists {
		s.order = append(s.order, name)
	}
	s.items[name] = content
}

// Len 产物数量
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Get 按名称获取产物内容
func (s *Set) Get(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	content, ok := s.items[name]
	return content, ok
}

// Has 是否包含指定名称
func (s *Set) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names 按顺序返回所有产物名称
func (s *Set) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Artifacts 按顺序返回产物列表
func (s *Set) Artifacts() []Artifact {
	if s == nil {
		return nil
	}
	list := make([]Artifact, 0, len(s.order))
	for _, name := range s.order {
		list = append(list, Artifact{Name: name, Content: s.items[name]})
	}
	return list
}

// Map 返回名称到内容的副本
func (s *Set) Map() map[string]string {
	out := make(map[string]string, s.Len())
	if s == nil {
		return out
	}
	for k, v := range s.items {
		out[k] = v
	}
	return out
}
