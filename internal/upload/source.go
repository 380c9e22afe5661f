package upload

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"

	xerrors "AgentStudio/internal/errors"
)

// Source 提供待上传文件的名称、大小和内容。Open 可能在传输阶段被调用一次。
type Source interface {
	Name() string
	Size() int64
	Open() (io.ReadCloser, error)
}

// FileSource 读取本地磁盘上的文件。
type FileSource struct {
	path string
	name string
	size int64
}

// NewFileSource 通过 os.Stat 获取文件信息，目录会被拒绝。
func NewFileSource(path string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "无法读取文件信息")
	}
	if info.IsDir() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "不能上传目录", xerrors.WithMetadata("path", path))
	}
	return &FileSource{path: path, name: filepath.Base(path), size: info.Size()}, nil
}

// Name 实现 Source 接口。
func (f *FileSource) Name() string { return f.name }

// Size 实现 Source 接口。
func (f *FileSource) Size() int64 { return f.size }

// Open 实现 Source 接口。
func (f *FileSource) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

// Path 返回文件路径。
func (f *FileSource) Path() string { return f.path }

// BytesSource 以内存数据作为上传内容。
type BytesSource struct {
	name string
	data []byte
}

// NewBytesSource 创建 BytesSource。
func NewBytesSource(name string, data []byte) *BytesSource {
	return &BytesSource{name: name, data: data}
}

// Name 实现 Source 接口。
func (b *BytesSource) Name() string { return b.name }

// Size 实现 Source 接口。
func (b *BytesSource) Size() int64 { return int64(len(b.data)) }

// Open 实现 Source 接口。
func (b *BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

var (
	_ Source = (*FileSource)(nil)
	_ Source = (*BytesSource)(nil)
)

// FormatSize 以 B、KB、MB 为单位格式化文件大小，保留一位小数。
func FormatSize(size int64) string {
	switch {
	case size < 1024:
		return strconv.FormatInt(size, 10) + " B"
	case size < 1024*1024:
		return strconv.FormatFloat(float64(size)/1024, 'f', 1, 64) + " KB"
	default:
		return strconv.FormatFloat(float64(size)/(1024*1024), 'f', 1, 64) + " MB"
	}
}
