package upload

import (
	"context"
	stdErrors "errors"
	"io"
	"log/slog"
	"math"
	"time"

	xerrors "AgentStudio/internal/errors"
	"AgentStudio/sdk/go/agentapi"
)

const (
	phaseAcquire  = "acquire"
	phaseTransfer = "transfer"
	phaseRegister = "register"
)

// run 依次执行申请上传地址、传输内容、登记附件三个阶段。
// 任一阶段失败时任务进入 error，不会重试。
func (o *Orchestrator) run(ctx context.Context, localID string) {
	defer o.pipelineExited()

	if o.slots != nil {
		select {
		case o.slots <- struct{}{}:
			defer func() { <-o.slots }()
		case <-ctx.Done():
			o.fail(localID, phaseAcquire, xerrors.Wrap(xerrors.CodeAborted, ctx.Err(), "upload aborted"))
			return
		}
	}

	o.metrics.PipelineStarted()
	defer o.metrics.PipelineFinished()

	task, ok := o.Task(localID)
	if !ok {
		return
	}
	src := o.sourceOf(localID)
	if src == nil {
		return
	}

	start := time.Now()
	target, err := o.backend.RequestUploadTarget(ctx)
	o.metrics.ObservePhase(phaseAcquire, time.Since(start), err)
	if err != nil {
		o.fail(localID, phaseAcquire, xerrors.Transport(err, "failed to obtain upload target"))
		return
	}
	if err := o.advance(localID, StatusUploading, func(t *Task) {
		t.RemoteKey = target.Key
		t.Progress = 0
	}); err != nil {
		o.abandon(localID, phaseAcquire, err)
		return
	}

	start = time.Now()
	contentType, err := o.transfer(ctx, localID, src, task.Name, task.SizeBytes, target.SignedURL)
	o.metrics.ObservePhase(phaseTransfer, time.Since(start), err)
	if err != nil {
		o.fail(localID, phaseTransfer, xerrors.Transport(err, "network error during upload"))
		return
	}
	if err := o.advance(localID, StatusRegistering, func(t *Task) {
		t.MimeType = contentType
		t.Progress = 100
		t.source = nil
	}); err != nil {
		o.abandon(localID, phaseTransfer, err)
		return
	}

	start = time.Now()
	attachment, err := o.backend.RegisterAttachment(ctx, agentapi.AttachmentRegistration{
		Key:      target.Key,
		FileName: task.Name,
		FileSize: task.SizeBytes,
		MimeType: contentType,
	})
	o.metrics.ObservePhase(phaseRegister, time.Since(start), err)
	if err != nil {
		o.fail(localID, phaseRegister, xerrors.Transport(err, "failed to register attachment"))
		return
	}
	if err := o.advance(localID, StatusDone, func(t *Task) {
		t.AttachmentID = attachment.ID
		t.Progress = 100
	}); err != nil {
		o.abandon(localID, phaseRegister, err)
	}
}

func (o *Orchestrator) sourceOf(localID string) Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[localID]
	if !ok {
		return nil
	}
	return task.source
}

// transfer 读取文件内容并上传，同时截取文件头用于类型检测。进度只增不减。
func (o *Orchestrator) transfer(ctx context.Context, localID string, src Source, name string, size int64, signedURL string) (string, error) {
	body, err := src.Open()
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "failed to read file")
	}
	defer body.Close()

	head := &headCapture{}
	reader := io.TeeReader(body, head)
	onProgress := func(sent, total int64) {
		if total <= 0 {
			return
		}
		o.setProgress(localID, int(math.Round(float64(sent)/float64(total)*100)))
	}
	if err := o.backend.TransferObject(ctx, signedURL, reader, size, onProgress); err != nil {
		return "", err
	}
	return detectContentType(name, head.buf), nil
}

// fail 将任务置为 error。任务已被移除时静默忽略。
func (o *Orchestrator) fail(localID, phase string, err error) {
	code := xerrors.CodeOf(err)
	message := describe(err)
	mutateErr := o.advance(localID, StatusError, func(t *Task) {
		t.ErrorCode = string(code)
		t.ErrorMessage = message
	})
	if mutateErr != nil {
		o.abandon(localID, phase, mutateErr)
	}
}

// abandon 处理流水线推进失败：任务被移除属于正常情况，其余说明状态机被破坏。
func (o *Orchestrator) abandon(localID, phase string, err error) {
	if stdErrors.Is(err, ErrTaskNotFound) {
		o.logger.Debug("任务已移除，停止流水线", slog.String("task_id", localID), slog.String("phase", phase))
		return
	}
	o.logger.Error("上传任务状态推进失败", slog.String("task_id", localID), slog.String("phase", phase), slog.Any("error", err))
}

// describe 生成面向用户的错误描述，包含底层原因。
func describe(err error) string {
	if err == nil {
		return ""
	}
	coded, ok := xerrors.From(err)
	if !ok {
		return err.Error()
	}
	message := coded.Message()
	if cause := coded.Unwrap(); cause != nil {
		if message == "" {
			return cause.Error()
		}
		return message + ": " + cause.Error()
	}
	if message == "" {
		return string(coded.Code())
	}
	return message
}
