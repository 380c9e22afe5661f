package form

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	xerrors "AgentStudio/internal/errors"
	"AgentStudio/internal/upload"
	"AgentStudio/sdk/go/agentapi"
)

type fakeAPI struct {
	mu        sync.Mutex
	created   []agentapi.AgentPayload
	updated   map[string]agentapi.AgentPayload
	testCalls []string
	saveErr   error
}

func (f *fakeAPI) CreateAgent(_ context.Context, payload agentapi.AgentPayload) (agentapi.SavedAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return agentapi.SavedAgent{}, f.saveErr
	}
	f.created = append(f.created, payload)
	return agentapi.SavedAgent{ID: "agent-1"}, nil
}

func (f *fakeAPI) UpdateAgent(_ context.Context, id string, payload agentapi.AgentPayload) (agentapi.SavedAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return agentapi.SavedAgent{}, f.saveErr
	}
	if f.updated == nil {
		f.updated = make(map[string]agentapi.AgentPayload)
	}
	f.updated[id] = payload
	return agentapi.SavedAgent{ID: id}, nil
}

func (f *fakeAPI) StartTestCall(_ context.Context, id string, _ agentapi.TestCallPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.testCalls = append(f.testCalls, id)
	return nil
}

type instantBackend struct{}

func (instantBackend) RequestUploadTarget(context.Context) (agentapi.UploadTarget, error) {
	return agentapi.UploadTarget{Key: "k", SignedURL: "https://storage.test/k"}, nil
}

func (instantBackend) TransferObject(_ context.Context, _ string, body io.Reader, _ int64, _ agentapi.ProgressFunc) error {
	_, err := io.Copy(io.Discard, body)
	return err
}

func (instantBackend) RegisterAttachment(_ context.Context, reg agentapi.AttachmentRegistration) (agentapi.Attachment, error) {
	return agentapi.Attachment{ID: "att-" + reg.FileName}, nil
}

func filledForm(api API) *Form {
	f := New(api, ModeCreate, nil)
	f.Update(func(v *Values) {
		v.AgentName = "Receptionist"
		v.Language = "en-US"
		v.Voice = "v1"
		v.Prompt = "p1"
		v.Model = "m1"
	})
	return f
}

func TestDefaults(t *testing.T) {
	f := New(nil, ModeCreate, nil)
	v := f.Values()
	if v.CallType != CallTypeInbound || v.Latency != 0.5 || v.Speed != 110 {
		t.Fatalf("unexpected defaults: %+v", v)
	}
	if !v.Tools.AllowHangUp || v.Tools.AllowCallback || v.Tools.LiveTransfer {
		t.Fatalf("unexpected default tools: %+v", v.Tools)
	}
	if v.Attachments == nil || len(v.Attachments) != 0 {
		t.Fatalf("attachments should default to an empty list")
	}
	if f.MissingBasicSettings() != 5 {
		t.Fatalf("expected 5 missing basic settings, got %d", f.MissingBasicSettings())
	}
	if f.Heading() != "Create Agent" || f.SaveLabel() != "Save Agent" {
		t.Fatalf("unexpected labels: %s / %s", f.Heading(), f.SaveLabel())
	}
}

func TestValidate(t *testing.T) {
	v := DefaultValues()
	v.CallType = "broadcast"
	v.Latency = 1.5
	v.Speed = 80
	err := v.Validate()
	if xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation code, got %v", err)
	}
	fields := FieldErrors(err)
	var names []string
	for _, fe := range fields {
		names = append(names, fe.Field)
	}
	want := []string{"agentName", "language", "voice", "prompt", "model", "callType", "latency", "speed"}
	if !slices.Equal(names, want) {
		t.Fatalf("expected fields %v, got %v", want, names)
	}

	ok := DefaultValues()
	ok.AgentName, ok.Language, ok.Voice, ok.Prompt, ok.Model = "a", "b", "c", "d", "e"
	ok.Latency, ok.Speed = 0.3, 130
	if err := ok.Validate(); err != nil {
		t.Fatalf("boundary values should pass: %v", err)
	}
}

func TestSaveCreatesThenUpdates(t *testing.T) {
	api := &fakeAPI{}
	f := filledForm(api)

	id, err := f.Save(context.Background())
	if err != nil || id != "agent-1" {
		t.Fatalf("first save: %q %v", id, err)
	}
	if len(api.created) != 1 || api.created[0].Name != "Receptionist" {
		t.Fatalf("expected create call, got %+v", api.created)
	}

	f.Update(func(v *Values) { v.Description = "front desk" })
	if _, err := f.Save(context.Background()); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if len(api.created) != 1 || api.updated["agent-1"].Description != "front desk" {
		t.Fatalf("second save should update, got created=%d updated=%+v", len(api.created), api.updated)
	}
}

func TestEditModeUsesInitialID(t *testing.T) {
	api := &fakeAPI{}
	initial := &agentapi.Agent{ID: "agent-9", AgentPayload: agentapi.AgentPayload{
		Name: "Sales", CallType: "outbound", Language: "en", Voice: "v", Prompt: "p", Model: "m",
		Tools: agentapi.Tools{LiveTransfer: true},
	}}
	f := New(api, ModeEdit, initial)
	if f.Heading() != "Edit Agent" || f.SaveLabel() != "Save Changes" {
		t.Fatalf("unexpected labels")
	}
	v := f.Values()
	if v.Latency != DefaultLatency || v.Speed != DefaultSpeed || !v.Tools.LiveTransfer {
		t.Fatalf("unexpected edit values: %+v", v)
	}
	if _, err := f.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := api.updated["agent-9"]; !ok || len(api.created) != 0 {
		t.Fatalf("edit save should update agent-9")
	}
}

func TestStartTestCallRequiresValidSave(t *testing.T) {
	api := &fakeAPI{}
	invalid := New(api, ModeCreate, nil)
	if err := invalid.StartTestCall(context.Background(), agentapi.TestCallPayload{}); xerrors.CodeOf(err) != xerrors.CodeValidation {
		t.Fatalf("expected validation failure, got %v", err)
	}

	api.saveErr = xerrors.New(xerrors.CodeServer, "Failed to save agent")
	f := filledForm(api)
	if err := f.StartTestCall(context.Background(), agentapi.TestCallPayload{}); !errors.Is(err, api.saveErr) {
		t.Fatalf("expected save failure, got %v", err)
	}
	if len(api.testCalls) != 0 {
		t.Fatalf("test call must not run when validation or save fails")
	}

	api.saveErr = nil
	payload := agentapi.TestCallPayload{FirstName: "Ada", PhoneNumber: "+15550100"}
	if err := f.StartTestCall(context.Background(), payload); err != nil {
		t.Fatalf("start test call: %v", err)
	}
	if !slices.Equal(api.testCalls, []string{"agent-1"}) {
		t.Fatalf("expected test call for saved id, got %v", api.testCalls)
	}
}

func TestBindUploadsMirrorsAttachments(t *testing.T) {
	api := &fakeAPI{}
	f := filledForm(api)
	session := upload.New(instantBackend{})
	f.BindUploads(session)

	if _, err := session.SubmitBatch([]upload.Source{
		upload.NewBytesSource("a.pdf", []byte("%PDF-1.4")),
		upload.NewBytesSource("b.txt", []byte("hello")),
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	want := []string{"att-a.pdf", "att-b.txt"}
	if got := f.Values().Attachments; !slices.Equal(got, want) {
		t.Fatalf("expected attachments %v, got %v", want, got)
	}

	f.Update(func(v *Values) { v.Attachments = nil })
	if got := f.Values().Attachments; !slices.Equal(got, want) {
		t.Fatalf("bound attachments must not be overwritten by Update, got %v", got)
	}

	if _, err := f.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !slices.Equal(api.created[0].Attachments, want) {
		t.Fatalf("saved payload should carry attachments, got %v", api.created[0].Attachments)
	}

	if err := f.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := f.Values().Attachments; len(got) != 0 {
		t.Fatalf("reset should clear attachments, got %v", got)
	}
	if _, err := session.SubmitBatch(nil); !upload.IsTaskError(err, upload.CodeSessionClosed) {
		t.Fatalf("reset should close the session, got %v", err)
	}
}

func TestEditModeKeepsStoredAttachments(t *testing.T) {
	api := &fakeAPI{}
	initial := &agentapi.Agent{ID: "agent-7", AgentPayload: agentapi.AgentPayload{
		Name: "Support", CallType: "inbound", Language: "en", Voice: "v", Prompt: "p", Model: "m",
		Attachments: []string{"att-old"},
	}}

	f := New(api, ModeEdit, initial)
	if _, err := f.Save(context.Background()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := api.updated["agent-7"].Attachments; !slices.Equal(got, []string{"att-old"}) {
		t.Fatalf("stored attachments should survive a plain save, got %v", got)
	}

	session := upload.New(instantBackend{})
	f.BindUploads(session)
	if got := f.Values().Attachments; !slices.Equal(got, []string{"att-old"}) {
		t.Fatalf("binding an empty session should keep stored attachments, got %v", got)
	}
	if _, err := session.SubmitBatch([]upload.Source{upload.NewBytesSource("new.pdf", []byte("%PDF-1.4"))}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := session.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	want := []string{"att-old", "att-new.pdf"}
	if got := f.Values().Attachments; !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if err := f.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := f.Values().Attachments; len(got) != 0 {
		t.Fatalf("reset should clear stored attachments too, got %v", got)
	}
}
