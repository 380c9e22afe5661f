package upload

import (
	"strings"

	xerrors "AgentStudio/internal/errors"
)

// DefaultExtensions 是知识库附件允许的文件扩展名。
var DefaultExtensions = []string{".pdf", ".doc", ".docx", ".txt", ".csv", ".xlsx", ".xls"}

// Filter 按扩展名筛选待上传文件，比较时不区分大小写。
type Filter struct {
	accepted map[string]struct{}
}

// NewFilter 创建 Filter。extensions 为空时使用 DefaultExtensions，允许省略前导点。
func NewFilter(extensions ...string) *Filter {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	set := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return &Filter{accepted: set}
}

// Extension 返回文件名最后一个点之后的部分（含点，小写）。没有点时返回空串。
func Extension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(name[idx:])
}

// Accepts 报告文件名是否可以上传。
func (f *Filter) Accepts(name string) bool {
	ext := Extension(name)
	if ext == "" || ext == "." {
		return false
	}
	_, ok := f.accepted[ext]
	return ok
}

// Check 与 Accepts 相同，但在拒绝时返回带元数据的错误，便于调用方展示原因。
func (f *Filter) Check(name string) error {
	if f.Accepts(name) {
		return nil
	}
	return xerrors.New(CodeExtensionRefused, "file extension not accepted",
		xerrors.WithMetadata("file", name),
		xerrors.WithMetadata("extension", Extension(name)),
	)
}

// Extensions 返回允许的扩展名集合，顺序不固定。
func (f *Filter) Extensions() []string {
	out := make([]string, 0, len(f.accepted))
	for ext := range f.accepted {
		out = append(out, ext)
	}
	return out
}
