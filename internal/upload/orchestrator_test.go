package upload

import (
	"context"
	"errors"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentStudio/internal/errors"
	"AgentStudio/internal/events"
	"AgentStudio/sdk/go/agentapi"
)

type fakeBackend struct {
	seq      atomic.Int64
	acquire  func(ctx context.Context) (agentapi.UploadTarget, error)
	transfer func(ctx context.Context, url string, body io.Reader, size int64, progress agentapi.ProgressFunc) error
	register func(ctx context.Context, reg agentapi.AttachmentRegistration) (agentapi.Attachment, error)

	mu   sync.Mutex
	regs []agentapi.AttachmentRegistration
}

func (f *fakeBackend) RequestUploadTarget(ctx context.Context) (agentapi.UploadTarget, error) {
	if f.acquire != nil {
		return f.acquire(ctx)
	}
	n := f.seq.Add(1)
	key := "uploads/k-" + strconv.FormatInt(n, 10)
	return agentapi.UploadTarget{Key: key, SignedURL: "https://storage.test/" + key}, nil
}

func (f *fakeBackend) TransferObject(ctx context.Context, url string, body io.Reader, size int64, progress agentapi.ProgressFunc) error {
	if f.transfer != nil {
		return f.transfer(ctx, url, body, size, progress)
	}
	return drain(body, size, progress)
}

func (f *fakeBackend) RegisterAttachment(ctx context.Context, reg agentapi.AttachmentRegistration) (agentapi.Attachment, error) {
	f.mu.Lock()
	f.regs = append(f.regs, reg)
	f.mu.Unlock()
	if f.register != nil {
		return f.register(ctx, reg)
	}
	return agentapi.Attachment{ID: "att-" + reg.FileName}, nil
}

func (f *fakeBackend) registrations() []agentapi.AttachmentRegistration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.regs)
}

// drain 以 4 字节为单位读取 body 并回报累计进度。
func drain(body io.Reader, size int64, progress agentapi.ProgressFunc) error {
	buf := make([]byte, 4)
	var sent int64
	for {
		n, err := body.Read(buf)
		if n > 0 {
			sent += int64(n)
			if progress != nil {
				progress(sent, size)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func waitIdle(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func waitFor(t *testing.T, o *Orchestrator, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		ch := o.Changed()
		if cond() {
			return
		}
		select {
		case <-ch:
		case <-deadline:
			t.Fatalf("condition not reached; tasks: %+v", o.Tasks())
		}
	}
}

func closeSession(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSubmitBatchDropsUnsupportedFiles(t *testing.T) {
	o := New(&fakeBackend{})
	defer closeSession(t, o)

	ids, err := o.SubmitBatch([]Source{
		NewBytesSource("a.pdf", []byte("%PDF-1.4")),
		NewBytesSource("b.exe", []byte("MZ")),
		NewBytesSource("Report.DOCX", []byte("docx")),
		NewBytesSource("pdf", []byte("no dot")),
		nil,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 accepted files, got %d", len(ids))
	}
	waitIdle(t, o)

	tasks := o.Tasks()
	if tasks[0].Name != "a.pdf" || tasks[1].Name != "Report.DOCX" {
		t.Fatalf("unexpected task order: %+v", tasks)
	}
	stats := o.Stats()
	if stats.Total != 2 || stats.Rejected != 2 || stats.Done != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestPipelineCompletesTask(t *testing.T) {
	backend := &fakeBackend{}
	sink := events.NewMemorySink()
	o := New(backend, WithEventSink(sink))
	defer closeSession(t, o)

	ids, err := o.SubmitBatch([]Source{NewBytesSource("brief.pdf", []byte("%PDF-1.4 body of the document"))})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitIdle(t, o)

	task, ok := o.Task(ids[0])
	if !ok {
		t.Fatalf("task not found")
	}
	if task.Status != StatusDone || task.Progress != 100 {
		t.Fatalf("expected done at 100%%, got %s at %d", task.Status, task.Progress)
	}
	if task.AttachmentID != "att-brief.pdf" || task.RemoteKey == "" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.MimeType != "application/pdf" {
		t.Fatalf("expected sniffed pdf type, got %q", task.MimeType)
	}
	if got := o.Attachments(); !slices.Equal(got, []string{"att-brief.pdf"}) {
		t.Fatalf("unexpected attachments: %v", got)
	}

	regs := backend.registrations()
	if len(regs) != 1 || regs[0].Key != task.RemoteKey || regs[0].FileSize != task.SizeBytes {
		t.Fatalf("unexpected registration: %+v", regs)
	}

	var statuses []string
	for _, ev := range sink.ForTask(ids[0]) {
		statuses = append(statuses, ev.Status)
	}
	want := []string{"queued", "uploading", "registering", "done"}
	if !slices.Equal(statuses, want) {
		t.Fatalf("expected events %v, got %v", want, statuses)
	}
}

func TestTransferFailureKeepsAttachmentsUnchanged(t *testing.T) {
	backend := &fakeBackend{
		transfer: func(context.Context, string, io.Reader, int64, agentapi.ProgressFunc) error {
			return errors.New("connection reset by peer")
		},
	}
	o := New(backend)
	defer closeSession(t, o)

	var notified atomic.Int32
	o.Subscribe(func([]string) { notified.Add(1) })

	ids, _ := o.SubmitBatch([]Source{NewBytesSource("notes.txt", []byte("hello"))})
	waitIdle(t, o)

	task, _ := o.Task(ids[0])
	if task.Status != StatusError {
		t.Fatalf("expected error status, got %s", task.Status)
	}
	if task.ErrorCode != string(xerrors.CodeNetwork) {
		t.Fatalf("expected network error code, got %q", task.ErrorCode)
	}
	if !strings.Contains(task.ErrorMessage, "network error during upload") {
		t.Fatalf("unexpected error message: %q", task.ErrorMessage)
	}
	if len(o.Attachments()) != 0 {
		t.Fatalf("attachments should stay empty")
	}
	if notified.Load() != 1 {
		t.Fatalf("subscriber should only see the initial value, got %d calls", notified.Load())
	}
	if len(backend.registrations()) != 0 {
		t.Fatalf("register must not run after a failed transfer")
	}
}

func TestAcquireFailureMovesQueuedToError(t *testing.T) {
	backend := &fakeBackend{
		acquire: func(context.Context) (agentapi.UploadTarget, error) {
			return agentapi.UploadTarget{}, xerrors.Wrap(xerrors.CodeServer, errors.New("status 500"), "request failed")
		},
	}
	sink := events.NewMemorySink()
	o := New(backend, WithEventSink(sink))
	defer closeSession(t, o)

	ids, _ := o.SubmitBatch([]Source{NewBytesSource("a.csv", []byte("a,b"))})
	waitIdle(t, o)

	task, _ := o.Task(ids[0])
	if task.Status != StatusError || task.ErrorCode != string(xerrors.CodeServer) {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.ErrorMessage != "request failed: status 500" {
		t.Fatalf("unexpected message: %q", task.ErrorMessage)
	}
	evs := sink.ForTask(ids[0])
	if len(evs) != 2 || evs[1].Status != "error" {
		t.Fatalf("expected queued then error events, got %+v", evs)
	}
}

func TestConcurrentCompletionsAreBothRecorded(t *testing.T) {
	var arrived atomic.Int32
	both := make(chan struct{})
	backend := &fakeBackend{
		transfer: func(ctx context.Context, _ string, body io.Reader, size int64, progress agentapi.ProgressFunc) error {
			if arrived.Add(1) == 2 {
				close(both)
			}
			select {
			case <-both:
			case <-ctx.Done():
				return ctx.Err()
			}
			return drain(body, size, progress)
		},
	}
	o := New(backend)
	defer closeSession(t, o)

	var mu sync.Mutex
	var seen [][]string
	o.Subscribe(func(ids []string) {
		mu.Lock()
		seen = append(seen, ids)
		mu.Unlock()
	})

	_, err := o.SubmitBatch([]Source{
		NewBytesSource("one.pdf", []byte("first file")),
		NewBytesSource("two.xlsx", []byte("second file")),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitIdle(t, o)

	want := []string{"att-one.pdf", "att-two.xlsx"}
	if got := o.Attachments(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	mu.Lock()
	last := seen[len(seen)-1]
	mu.Unlock()
	if !slices.Equal(last, want) {
		t.Fatalf("last notification should carry both ids, got %v", last)
	}
}

func TestRemoveTaskRules(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{
		transfer: func(ctx context.Context, _ string, body io.Reader, size int64, progress agentapi.ProgressFunc) error {
			close(entered)
			<-release
			return drain(body, size, progress)
		},
	}
	o := New(backend)
	defer closeSession(t, o)

	var latest atomic.Value
	o.Subscribe(func(ids []string) { latest.Store(ids) })

	ids, _ := o.SubmitBatch([]Source{NewBytesSource("contract.doc", []byte("doc body"))})
	<-entered

	if err := o.RemoveTask(ids[0]); !IsTaskError(err, CodeTaskInFlight) {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}
	close(release)
	waitIdle(t, o)

	if got := latest.Load().([]string); !slices.Equal(got, []string{"att-contract.doc"}) {
		t.Fatalf("unexpected attachments before removal: %v", got)
	}
	if err := o.RemoveTask(ids[0]); err != nil {
		t.Fatalf("remove done task: %v", err)
	}
	if len(o.Tasks()) != 0 || len(o.Attachments()) != 0 {
		t.Fatalf("done task removal should shrink attachments")
	}
	if got := latest.Load().([]string); len(got) != 0 {
		t.Fatalf("subscriber should see empty attachments, got %v", got)
	}
	if err := o.RemoveTask(ids[0]); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemoveQueuedTaskCancelsPipeline(t *testing.T) {
	entered := make(chan struct{})
	backend := &fakeBackend{
		acquire: func(ctx context.Context) (agentapi.UploadTarget, error) {
			close(entered)
			<-ctx.Done()
			return agentapi.UploadTarget{}, ctx.Err()
		},
	}
	sink := events.NewMemorySink()
	o := New(backend, WithEventSink(sink))
	defer closeSession(t, o)

	ids, _ := o.SubmitBatch([]Source{NewBytesSource("slow.pdf", []byte("x"))})
	<-entered
	if err := o.RemoveTask(ids[0]); err != nil {
		t.Fatalf("remove queued task: %v", err)
	}
	waitIdle(t, o)
	closeSession(t, o)

	if len(o.Tasks()) != 0 {
		t.Fatalf("removed task should not come back")
	}
	evs := sink.ForTask(ids[0])
	if len(evs) != 2 || evs[1].Type != events.TypeRemoved {
		t.Fatalf("expected queued then removed, got %+v", evs)
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	var o *Orchestrator
	var observed []int
	backend := &fakeBackend{
		transfer: func(_ context.Context, _ string, body io.Reader, _ int64, progress agentapi.ProgressFunc) error {
			_, _ = io.Copy(io.Discard, body)
			for _, sent := range []int64{5, 3, 7, 12} {
				progress(sent, 10)
				task := o.Tasks()[0]
				observed = append(observed, task.Progress)
			}
			return nil
		},
	}
	o = New(backend)
	defer closeSession(t, o)

	_, _ = o.SubmitBatch([]Source{NewBytesSource("sheet.xls", []byte("0123456789"))})
	waitIdle(t, o)

	want := []int{50, 50, 70, 100}
	if !slices.Equal(observed, want) {
		t.Fatalf("expected progress %v, got %v", want, observed)
	}
	if task := o.Tasks()[0]; task.Progress != 100 || task.Status != StatusDone {
		t.Fatalf("unexpected final task: %+v", task)
	}
}

func TestCloseAbortsInFlightTasks(t *testing.T) {
	entered := make(chan struct{})
	backend := &fakeBackend{
		transfer: func(ctx context.Context, _ string, _ io.Reader, _ int64, _ agentapi.ProgressFunc) error {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		},
	}
	o := New(backend)
	ids, _ := o.SubmitBatch([]Source{NewBytesSource("big.pdf", []byte("content"))})
	<-entered

	closeSession(t, o)

	task, _ := o.Task(ids[0])
	if task.Status != StatusError || task.ErrorCode != string(xerrors.CodeAborted) {
		t.Fatalf("expected aborted task, got %+v", task)
	}
	if _, err := o.SubmitBatch([]Source{NewBytesSource("late.pdf", nil)}); !IsTaskError(err, CodeSessionClosed) {
		t.Fatalf("expected session closed, got %v", err)
	}
	if err := o.Close(context.Background()); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestMaxConcurrentLimitsPipelines(t *testing.T) {
	var running, peak atomic.Int32
	backend := &fakeBackend{
		transfer: func(_ context.Context, _ string, body io.Reader, size int64, progress agentapi.ProgressFunc) error {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return drain(body, size, progress)
		},
	}
	o := New(backend, WithMaxConcurrent(1))
	defer closeSession(t, o)

	_, _ = o.SubmitBatch([]Source{
		NewBytesSource("a.txt", []byte("a")),
		NewBytesSource("b.txt", []byte("b")),
		NewBytesSource("c.txt", []byte("c")),
	})
	waitIdle(t, o)

	if peak.Load() != 1 {
		t.Fatalf("expected at most one transfer at a time, saw %d", peak.Load())
	}
	if got := len(o.Attachments()); got != 3 {
		t.Fatalf("expected 3 attachments, got %d", got)
	}
}

func TestSubscribeReceivesCurrentValueAndUnsubscribes(t *testing.T) {
	o := New(&fakeBackend{})
	defer closeSession(t, o)

	_, _ = o.SubmitBatch([]Source{NewBytesSource("a.pdf", []byte("a"))})
	waitIdle(t, o)

	var calls [][]string
	unsubscribe := o.Subscribe(func(ids []string) { calls = append(calls, ids) })
	if len(calls) != 1 || !slices.Equal(calls[0], []string{"att-a.pdf"}) {
		t.Fatalf("expected immediate delivery of current value, got %v", calls)
	}
	unsubscribe()

	_, _ = o.SubmitBatch([]Source{NewBytesSource("b.pdf", []byte("b"))})
	waitIdle(t, o)
	if len(calls) != 1 {
		t.Fatalf("unsubscribed callback should not run, got %v", calls)
	}
}

func TestSubmitWithoutBackend(t *testing.T) {
	o := New(nil)
	defer closeSession(t, o)
	if _, err := o.SubmitBatch(nil); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	backend := &fakeBackend{
		acquire: func(ctx context.Context) (agentapi.UploadTarget, error) {
			<-ctx.Done()
			return agentapi.UploadTarget{}, ctx.Err()
		},
	}
	o := New(backend)
	defer closeSession(t, o)
	_, _ = o.SubmitBatch([]Source{NewBytesSource("a.pdf", nil)})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := o.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	waitFor(t, o, func() bool { return o.Stats().Queued == 1 })
}
