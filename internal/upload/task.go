package upload

import (
	"context"
	stdErrors "errors"
	"time"

	xerrors "AgentStudio/internal/errors"
)

// Status 表示上传任务在生命周期中的状态。
type Status string

const (
	StatusQueued      Status = "queued"
	StatusUploading   Status = "uploading"
	StatusRegistering Status = "registering"
	StatusDone        Status = "done"
	StatusError       Status = "error"
)

// Task 描述一个文件的上传进度。对外只暴露快照，内部状态由 Orchestrator 独占。
type Task struct {
	LocalID      string    `json:"local_id"`
	Name         string    `json:"name"`
	SizeBytes    int64     `json:"size_bytes"`
	MimeType     string    `json:"mime_type,omitempty"`
	Progress     int       `json:"progress"`
	Status       Status    `json:"status"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	RemoteKey    string    `json:"remote_key,omitempty"`
	AttachmentID string    `json:"attachment_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	source Source
	cancel context.CancelFunc
}

// snapshot 返回不含内部字段的副本。
func (t *Task) snapshot() Task {
	clone := *t
	clone.source = nil
	clone.cancel = nil
	return clone
}

// Terminal 报告任务是否已结束。
func (t Task) Terminal() bool {
	return t.Status == StatusDone || t.Status == StatusError
}

// InFlight 报告任务是否正处于传输或登记阶段。
func (t Task) InFlight() bool {
	return t.Status == StatusUploading || t.Status == StatusRegistering
}

var transitions = map[Status][]Status{
	StatusQueued:      {StatusUploading, StatusError},
	StatusUploading:   {StatusRegistering, StatusError},
	StatusRegistering: {StatusDone, StatusError},
}

// CanTransition 判断状态迁移是否合法。done 与 error 为终态。
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	CodeTaskNotFound     xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskInFlight     xerrors.Code = "TASK_IN_FLIGHT"
	CodeIllegalStatus    xerrors.Code = "TASK_ILLEGAL_TRANSITION"
	CodeSessionClosed    xerrors.Code = "UPLOAD_SESSION_CLOSED"
	CodeExtensionRefused xerrors.Code = "EXTENSION_NOT_ACCEPTED"
)

var (
	// ErrTaskNotFound 表示指定的任务不存在或已被移除。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "upload task not found")
	// ErrTaskInFlight 表示任务正在传输或登记，暂不允许移除。
	ErrTaskInFlight = xerrors.New(CodeTaskInFlight, "upload task is in flight", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrIllegalTransition 表示请求的状态迁移不在允许的迁移表中。
	ErrIllegalTransition = xerrors.New(CodeIllegalStatus, "illegal upload status transition", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrSessionClosed 表示上传会话已经关闭。
	ErrSessionClosed = xerrors.New(CodeSessionClosed, "upload session closed")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "upload task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskInFlight, xerrors.Attributes{
		Message:  "upload task is in flight",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeIllegalStatus, xerrors.Attributes{
		Message:  "illegal upload status transition",
		Severity: xerrors.SeverityCritical,
	})
	xerrors.Register(CodeSessionClosed, xerrors.Attributes{
		Message:  "upload session closed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeExtensionRefused, xerrors.Attributes{
		Message:  "file extension not accepted",
		Severity: xerrors.SeverityInfo,
	})
}

// IsTaskError 判断错误是否为指定代码的上传任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeTaskNotFound:
		return stdErrors.Is(err, ErrTaskNotFound)
	case CodeTaskInFlight:
		return stdErrors.Is(err, ErrTaskInFlight)
	case CodeIllegalStatus:
		return stdErrors.Is(err, ErrIllegalTransition)
	case CodeSessionClosed:
		return stdErrors.Is(err, ErrSessionClosed)
	default:
		return xerrors.CodeOf(err) == target
	}
}

// Stats 聚合会话内任务的状态计数。
type Stats struct {
	Total       int `json:"total"`
	Queued      int `json:"queued"`
	Uploading   int `json:"uploading"`
	Registering int `json:"registering"`
	Done        int `json:"done"`
	Failed      int `json:"failed"`
	Rejected    int `json:"rejected"`
}

// Active 返回尚未进入终态的任务数。
func (s Stats) Active() int {
	return s.Queued + s.Uploading + s.Registering
}
