package upload

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	sniffLimit         = 3072
	defaultContentType = "application/octet-stream"
)

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// 这些检测结果过于笼统，扩展名能给出更准确的类型时以扩展名为准。
var genericTypes = []string{
	"application/octet-stream",
	"text/plain",
	"application/zip",
	"application/x-ole-storage",
}

// headCapture 记录流经的前 sniffLimit 个字节。
type headCapture struct {
	buf []byte
}

func (h *headCapture) Write(p []byte) (int, error) {
	if room := sniffLimit - len(h.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		h.buf = append(h.buf, p[:room]...)
	}
	return len(p), nil
}

// detectContentType 依据文件头判断类型，必要时回退到扩展名，最后回退到 octet-stream。
func detectContentType(name string, head []byte) string {
	byExt := extensionTypes[Extension(name)]
	if len(head) == 0 {
		if byExt != "" {
			return byExt
		}
		return defaultContentType
	}

	detected := mimetype.Detect(head)
	generic := false
	for _, g := range genericTypes {
		if detected.Is(g) {
			generic = true
			break
		}
	}
	if generic && byExt != "" {
		return byExt
	}
	kind, _, _ := strings.Cut(detected.String(), ";")
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return defaultContentType
	}
	return kind
}
