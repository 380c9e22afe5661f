package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Type 标识上传生命周期事件的种类。
type Type string

const (
	TypeQueued     Type = "task.queued"
	TypeTransition Type = "task.transition"
	TypeRemoved    Type = "task.removed"
)

// Event 描述一次上传任务的状态变化。进度变化不会产生事件。
type Event struct {
	Type         Type      `json:"type"`
	TaskID       string    `json:"task_id"`
	FileName     string    `json:"file_name"`
	SizeBytes    int64     `json:"size_bytes"`
	Status       string    `json:"status"`
	Progress     int       `json:"progress"`
	RemoteKey    string    `json:"remote_key,omitempty"`
	AttachmentID string    `json:"attachment_id,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	Error        string    `json:"error,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Sink 接收生命周期事件。实现必须可并发调用。
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Fanout 将事件广播给多个 Sink。
type Fanout struct {
	sinks []Sink
}

// NewFanout 创建 Fanout，忽略 nil。
func NewFanout(sinks ...Sink) *Fanout {
	set := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			set = append(set, s)
		}
	}
	return &Fanout{sinks: set}
}

// Len 返回已注册的 Sink 数量。
func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// Publish 将事件投递到全部 Sink，单个失败不影响其他 Sink。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭全部 Sink。
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encode(event Event) ([]byte, error) {
	return sonic.Marshal(event)
}

var _ Sink = (*Fanout)(nil)
