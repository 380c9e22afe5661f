package upload

import (
	"context"
	stdErrors "errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "AgentStudio/internal/errors"
	"AgentStudio/internal/events"
	"AgentStudio/internal/observability/metrics"
	"AgentStudio/pkg/logger"
	"AgentStudio/sdk/go/agentapi"
)

// Backend 定义上传流水线依赖的三个远端操作，*agentapi.Client 满足该接口。
type Backend interface {
	RequestUploadTarget(ctx context.Context) (agentapi.UploadTarget, error)
	TransferObject(ctx context.Context, signedURL string, body io.Reader, size int64, onProgress agentapi.ProgressFunc) error
	RegisterAttachment(ctx context.Context, reg agentapi.AttachmentRegistration) (agentapi.Attachment, error)
}

const eventPublishTimeout = 5 * time.Second

var errUnchanged = stdErrors.New("upload: task unchanged")

// Orchestrator 管理一个上传会话：为每个被接受的文件运行独立的三阶段流水线，
// 并维护由已完成任务派生的附件 ID 列表。
//
// 所有任务修改都在同一把锁内以 localId 为键完成读改写，
// 因此并发完成的任务不会相互覆盖。
type Orchestrator struct {
	backend Backend
	filter  *Filter
	sink    events.Sink
	metrics *metrics.Upload
	logger  *slog.Logger
	slots   chan struct{}
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	order       []string
	tasks       map[string]*Task
	attachments []string
	rejected    int
	running     int
	closed      bool
	changed     chan struct{}
	subscribers map[int]*subscriber
	nextSub     int

	// notifyMu 串行化订阅回调，保证订阅者按修改顺序看到附件列表。
	notifyMu sync.Mutex
}

type subscriber struct {
	fn   func([]string)
	last []string
}

// Option 定义可选配置。
type Option func(*Orchestrator)

// WithMaxConcurrent 限制同时运行的流水线数量，n <= 0 表示不限制。
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.slots = make(chan struct{}, n)
		} else {
			o.slots = nil
		}
	}
}

// WithAcceptedExtensions 覆盖默认的扩展名白名单。
func WithAcceptedExtensions(extensions ...string) Option {
	return func(o *Orchestrator) {
		if len(extensions) > 0 {
			o.filter = NewFilter(extensions...)
		}
	}
}

// WithEventSink 配置生命周期事件的投递目标。
func WithEventSink(sink events.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithMetrics 配置上传指标。
func WithMetrics(m *metrics.Upload) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New 创建上传会话。会话在 Close 之前一直有效。
func New(backend Backend, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		backend:     backend,
		filter:      NewFilter(),
		logger:      logger.Named("upload"),
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		tasks:       make(map[string]*Task),
		changed:     make(chan struct{}),
		subscribers: make(map[int]*subscriber),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

type launch struct {
	ctx context.Context
	id  string
}

// SubmitBatch 过滤文件并为每个被接受的文件创建 queued 任务，随后立即在后台启动流水线。
// 扩展名不被接受的文件会被静默丢弃，只记录调试日志和指标。返回值按提交顺序列出新任务的 localId。
func (o *Orchestrator) SubmitBatch(sources []Source) ([]string, error) {
	if o.backend == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "上传会话未配置后端")
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrSessionClosed
	}
	now := o.now()
	ids := make([]string, 0, len(sources))
	starts := make([]launch, 0, len(sources))
	queued := make([]Task, 0, len(sources))
	for _, src := range sources {
		if src == nil {
			continue
		}
		name := src.Name()
		if !o.filter.Accepts(name) {
			o.rejected++
			o.metrics.FileRejected(Extension(name))
			o.logger.Debug("忽略不支持的文件类型", slog.String("file", name), slog.String("extension", Extension(name)))
			continue
		}
		ctx, cancel := context.WithCancel(o.ctx)
		task := &Task{
			LocalID:   uuid.NewString(),
			Name:      name,
			SizeBytes: src.Size(),
			Status:    StatusQueued,
			CreatedAt: now,
			UpdatedAt: now,
			source:    src,
			cancel:    cancel,
		}
		o.tasks[task.LocalID] = task
		o.order = append(o.order, task.LocalID)
		ids = append(ids, task.LocalID)
		starts = append(starts, launch{ctx: ctx, id: task.LocalID})
		queued = append(queued, task.snapshot())
		o.running++
		o.wg.Add(1)
	}
	if len(starts) > 0 {
		o.signalLocked()
	}
	o.mu.Unlock()

	for _, snap := range queued {
		o.emit(events.TypeQueued, snap)
	}
	for _, l := range starts {
		go o.run(l.ctx, l.id)
	}
	return ids, nil
}

// RemoveTask 从会话中移除任务。只有 queued、done、error 状态的任务可以移除，
// 传输或登记中的任务返回 ErrTaskInFlight。移除 queued 任务会取消其尚未完成的请求。
func (o *Orchestrator) RemoveTask(localID string) error {
	o.mu.Lock()
	task, ok := o.tasks[localID]
	if !ok {
		o.mu.Unlock()
		return ErrTaskNotFound
	}
	if task.InFlight() {
		o.mu.Unlock()
		return ErrTaskInFlight
	}
	delete(o.tasks, localID)
	o.order = slices.DeleteFunc(o.order, func(id string) bool { return id == localID })
	if task.cancel != nil {
		task.cancel()
		task.cancel = nil
	}
	snap := task.snapshot()
	changed := o.recomputeLocked()
	o.signalLocked()
	o.mu.Unlock()

	o.logger.Debug("移除上传任务", slog.String("task_id", localID), slog.String("status", string(snap.Status)))
	o.emit(events.TypeRemoved, snap)
	if changed {
		o.publish()
	}
	return nil
}

// Tasks 按提交顺序返回全部任务的快照。
func (o *Orchestrator) Tasks() []Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Task, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.tasks[id].snapshot())
	}
	return out
}

// Task 返回指定任务的快照。
func (o *Orchestrator) Task(localID string) (Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	task, ok := o.tasks[localID]
	if !ok {
		return Task{}, false
	}
	return task.snapshot(), true
}

// Attachments 返回已完成任务的附件 ID，顺序与任务列表一致。
func (o *Orchestrator) Attachments() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.attachments)
}

// Subscribe 注册附件列表的监听函数。注册时立即以当前值回调一次，
// 之后仅在列表内容变化时回调。回调串行执行，不能在回调中再次调用 Subscribe。
// 返回的函数用于取消监听。
func (o *Orchestrator) Subscribe(fn func(attachments []string)) func() {
	if fn == nil {
		return func() {}
	}
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	id := o.nextSub
	o.nextSub++
	current := slices.Clone(o.attachments)
	sub := &subscriber{fn: fn, last: current}
	o.subscribers[id] = sub
	o.mu.Unlock()

	fn(slices.Clone(current))
	return func() {
		o.mu.Lock()
		delete(o.subscribers, id)
		o.mu.Unlock()
	}
}

// Changed 返回一个在下一次任务变化（包括进度）时关闭的通道。
func (o *Orchestrator) Changed() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.changed
}

// Stats 返回当前会话的状态计数。
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	stats := Stats{Total: len(o.order), Rejected: o.rejected}
	for _, id := range o.order {
		switch o.tasks[id].Status {
		case StatusQueued:
			stats.Queued++
		case StatusUploading:
			stats.Uploading++
		case StatusRegistering:
			stats.Registering++
		case StatusDone:
			stats.Done++
		case StatusError:
			stats.Failed++
		}
	}
	return stats
}

// Wait 阻塞直到所有流水线退出或 ctx 结束。返回时任务的事件和订阅回调均已完成。
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		o.mu.Lock()
		running := o.running
		ch := o.changed
		o.mu.Unlock()
		if running == 0 {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) pipelineExited() {
	o.mu.Lock()
	o.running--
	o.signalLocked()
	o.mu.Unlock()
	o.wg.Done()
}

// Close 结束会话：取消所有未完成的流水线并等待其退出。被取消的任务以 ABORTED 进入 error 状态。
// 关闭后任务快照仍可读取，SubmitBatch 返回 ErrSessionClosed。
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	o.mu.Lock()
	o.subscribers = make(map[int]*subscriber)
	o.mu.Unlock()
	return nil
}

// mutate 在锁内对任务执行读改写。fn 返回 errUnchanged 表示无需修改。
func (o *Orchestrator) mutate(localID string, fn func(*Task) error) (before, after Task, err error) {
	o.mu.Lock()
	task, ok := o.tasks[localID]
	if !ok {
		o.mu.Unlock()
		return Task{}, Task{}, ErrTaskNotFound
	}
	before = task.snapshot()
	if err := fn(task); err != nil {
		o.mu.Unlock()
		return before, before, err
	}
	task.UpdatedAt = o.now()
	if task.Terminal() {
		task.source = nil
		if task.cancel != nil {
			task.cancel()
			task.cancel = nil
		}
	}
	after = task.snapshot()
	changed := o.recomputeLocked()
	o.signalLocked()
	o.mu.Unlock()

	if before.Status != after.Status {
		o.onTransition(before, after)
	}
	if changed {
		o.publish()
	}
	return before, after, nil
}

// advance 将任务迁移到 next，并在同一次加锁内应用 apply。
func (o *Orchestrator) advance(localID string, next Status, apply func(*Task)) error {
	_, _, err := o.mutate(localID, func(t *Task) error {
		if !CanTransition(t.Status, next) {
			return xerrors.Wrap(CodeIllegalStatus, ErrIllegalTransition, "illegal upload status transition",
				xerrors.WithMetadata("from", string(t.Status)),
				xerrors.WithMetadata("to", string(next)),
			)
		}
		if apply != nil {
			apply(t)
		}
		t.Status = next
		return nil
	})
	return err
}

func (o *Orchestrator) setProgress(localID string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	_, _, _ = o.mutate(localID, func(t *Task) error {
		if t.Status != StatusUploading || percent <= t.Progress {
			return errUnchanged
		}
		t.Progress = percent
		return nil
	})
}

func (o *Orchestrator) recomputeLocked() bool {
	next := make([]string, 0, len(o.attachments)+1)
	for _, id := range o.order {
		task := o.tasks[id]
		if task.Status == StatusDone && task.AttachmentID != "" {
			next = append(next, task.AttachmentID)
		}
	}
	if slices.Equal(next, o.attachments) {
		return false
	}
	o.attachments = next
	return true
}

func (o *Orchestrator) signalLocked() {
	close(o.changed)
	o.changed = make(chan struct{})
}

// publish 将最新的附件列表推送给值发生变化的订阅者。
func (o *Orchestrator) publish() {
	o.notifyMu.Lock()
	defer o.notifyMu.Unlock()

	o.mu.Lock()
	current := slices.Clone(o.attachments)
	subs := make([]*subscriber, 0, len(o.subscribers))
	for _, sub := range o.subscribers {
		subs = append(subs, sub)
	}
	o.mu.Unlock()

	for _, sub := range subs {
		if slices.Equal(sub.last, current) {
			continue
		}
		sub.last = current
		sub.fn(slices.Clone(current))
	}
}

func (o *Orchestrator) onTransition(before, after Task) {
	attrs := []any{
		slog.String("task_id", after.LocalID),
		slog.String("file", after.Name),
		slog.String("from", string(before.Status)),
		slog.String("to", string(after.Status)),
	}
	switch after.Status {
	case StatusDone:
		o.metrics.TaskFinished(string(StatusDone), "")
		o.metrics.Transferred(after.SizeBytes)
		logger.Audit().Info("附件上传完成",
			slog.String("task_id", after.LocalID),
			slog.String("file", after.Name),
			slog.Int64("size_bytes", after.SizeBytes),
			slog.String("attachment_id", after.AttachmentID),
		)
		o.logger.Info("上传任务完成", attrs...)
	case StatusError:
		o.metrics.TaskFinished(string(StatusError), after.ErrorCode)
		logger.Audit().Warn("附件上传失败",
			slog.String("task_id", after.LocalID),
			slog.String("file", after.Name),
			slog.String("error_code", after.ErrorCode),
			slog.String("error", after.ErrorMessage),
		)
		o.logger.Warn("上传任务失败", append(attrs, slog.String("error_code", after.ErrorCode), slog.String("error", after.ErrorMessage))...)
	default:
		o.logger.Debug("上传任务状态变更", attrs...)
	}
	o.emit(events.TypeTransition, after)
}

func (o *Orchestrator) emit(kind events.Type, task Task) {
	if o.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventPublishTimeout)
	defer cancel()
	err := o.sink.Publish(ctx, events.Event{
		Type:         kind,
		TaskID:       task.LocalID,
		FileName:     task.Name,
		SizeBytes:    task.SizeBytes,
		Status:       string(task.Status),
		Progress:     task.Progress,
		RemoteKey:    task.RemoteKey,
		AttachmentID: task.AttachmentID,
		ErrorCode:    task.ErrorCode,
		Error:        task.ErrorMessage,
		OccurredAt:   task.UpdatedAt,
	})
	if err != nil {
		o.logger.Warn("投递上传事件失败", slog.String("task_id", task.LocalID), slog.String("type", string(kind)), slog.Any("error", err))
	}
}
