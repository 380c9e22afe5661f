package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"AgentStudio/internal/catalog"
	"AgentStudio/internal/config"
	"AgentStudio/sdk/go/agentapi"
)

type fakeBackend struct {
	mu      sync.Mutex
	next    int
	created []agentapi.AgentPayload
	updated map[string]agentapi.AgentPayload
	srv     *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{updated: make(map[string]agentapi.AgentPayload)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/attachments/upload-url", func(w http.ResponseWriter, _ *http.Request) {
		b.mu.Lock()
		b.next++
		key := "obj-" + strconv.Itoa(b.next)
		b.mu.Unlock()
		writeJSON(w, agentapi.UploadTarget{Key: key, SignedURL: b.srv.URL + "/store/" + key})
	})
	mux.HandleFunc("PUT /store/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/attachments", func(w http.ResponseWriter, r *http.Request) {
		var reg agentapi.AttachmentRegistration
		_ = json.NewDecoder(r.Body).Decode(&reg)
		writeJSON(w, agentapi.Attachment{ID: "att-" + strings.TrimPrefix(reg.Key, "obj-")})
	})
	mux.HandleFunc("POST /api/agents", func(w http.ResponseWriter, r *http.Request) {
		var payload agentapi.AgentPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		b.mu.Lock()
		b.created = append(b.created, payload)
		b.mu.Unlock()
		writeJSON(w, agentapi.SavedAgent{ID: "agent-1"})
	})
	mux.HandleFunc("GET /api/agents", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []agentapi.AgentSummary{
			{ID: "a1", Name: "Sales Assistant", ModifiedAt: "Jan 25, 2025", Type: "inbound"},
			{ID: "a2", Name: "Survey Caller", ModifiedAt: "Feb 1, 2025", Type: "outbound"},
		})
	})
	mux.HandleFunc("GET /api/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, agentapi.Agent{ID: r.PathValue("id"), AgentPayload: agentapi.AgentPayload{
			Name: "Support Bot", CallType: "inbound", Language: "en", Voice: "v1", Prompt: "p1", Model: "m1",
			Latency: 0.6, Speed: 100, Attachments: []string{"att-stored"},
			Tools: agentapi.Tools{AllowHangUp: true},
		}})
	})
	mux.HandleFunc("PUT /api/agents/{id}", func(w http.ResponseWriter, r *http.Request) {
		var payload agentapi.AgentPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		b.mu.Lock()
		b.updated[r.PathValue("id")] = payload
		b.mu.Unlock()
		writeJSON(w, agentapi.SavedAgent{ID: r.PathValue("id")})
	})
	mux.HandleFunc("GET /api/languages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []agentapi.Language{{ID: "en", Code: "en-US", Name: "English"}})
	})
	mux.HandleFunc("GET /api/voices", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "voices offline", http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /api/prompts", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []agentapi.Prompt{{ID: "p1", Name: "Friendly"}})
	})
	mux.HandleFunc("GET /api/models", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, []agentapi.Model{{ID: "m1", Name: "Fast"}})
	})
	b.srv = httptest.NewServer(mux)
	t.Cleanup(b.srv.Close)

	t.Setenv(config.EnvAPIBaseURL, b.srv.URL)
	t.Setenv(config.EnvConfigPath, filepath.Join(t.TempDir(), "missing.yaml"))
	return b
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestUploadCommand(t *testing.T) {
	newFakeBackend(t)
	pdf := writeFile(t, "brochure.pdf", "%PDF-1.4 sample")
	exe := writeFile(t, "setup.exe", "MZ")

	out, err := execute(t, "upload", pdf, exe)
	if err != nil {
		t.Fatalf("upload: %v\n%s", err, out)
	}
	if !strings.Contains(out, "att-1") || !strings.Contains(out, "application/pdf") {
		t.Fatalf("expected attachment row, got:\n%s", out)
	}
	if !strings.Contains(out, "已跳过 1 个") {
		t.Fatalf("expected rejected file notice, got:\n%s", out)
	}
}

func TestAgentsSaveWithAttachments(t *testing.T) {
	backend := newFakeBackend(t)
	agentFile := writeFile(t, "agent.yaml", `
agent_name: Sales Assistant
language: en
voice: v1
prompt: p1
model: m1
speed: 120
tools:
  allow_hang_up: false
  live_transfer: true
`)
	doc := writeFile(t, "faq.txt", "questions and answers")

	out, err := execute(t, "agents", "save", "-f", agentFile, "--attach", doc)
	if err != nil {
		t.Fatalf("save: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Save Agent: agent-1") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if len(backend.created) != 1 {
		t.Fatalf("expected one create call, got %d", len(backend.created))
	}
	got := backend.created[0]
	if got.Name != "Sales Assistant" || got.Speed != 120 || got.Latency != 0.5 || got.CallType != "inbound" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if got.Tools.AllowHangUp || !got.Tools.LiveTransfer || got.Tools.AllowCallback {
		t.Fatalf("tools from the agent file were not applied: %+v", got.Tools)
	}
	if len(got.Attachments) != 1 || got.Attachments[0] != "att-1" {
		t.Fatalf("expected uploaded attachment, got %v", got.Attachments)
	}
}

func TestAgentsSaveEditKeepsStoredAttachments(t *testing.T) {
	backend := newFakeBackend(t)
	agentFile := writeFile(t, "agent.yaml", "speed: 125\n")

	out, err := execute(t, "agents", "save", "--id", "a7", "-f", agentFile)
	if err != nil {
		t.Fatalf("save: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Save Changes: a7") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	got, ok := backend.updated["a7"]
	if !ok {
		t.Fatalf("expected update of a7, got %v", backend.updated)
	}
	if got.Speed != 125 || got.Latency != 0.6 || got.Name != "Support Bot" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.Attachments) != 1 || got.Attachments[0] != "att-stored" {
		t.Fatalf("stored attachments should be kept, got %v", got.Attachments)
	}
}

func TestAgentsSaveReportsFieldErrors(t *testing.T) {
	backend := newFakeBackend(t)
	agentFile := writeFile(t, "agent.yaml", "agent_name: Incomplete\n")

	out, err := execute(t, "agents", "save", "-f", agentFile)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(out, "language: Language is required") {
		t.Fatalf("expected field errors, got:\n%s", out)
	}
	if len(backend.created) != 0 {
		t.Fatalf("invalid form must not be sent")
	}
}

func TestAgentsList(t *testing.T) {
	newFakeBackend(t)
	out, err := execute(t, "agents", "list", "--type", "outbound")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "Survey Caller") || strings.Contains(out, "Sales Assistant") {
		t.Fatalf("unexpected listing:\n%s", out)
	}
	if _, err := execute(t, "agents", "list", "--sort", "random"); err == nil {
		t.Fatalf("expected unknown sort order error")
	}
}

func TestCatalogCommandKeepsOtherSources(t *testing.T) {
	newFakeBackend(t)
	out, err := execute(t, "catalog")
	if err == nil {
		t.Fatalf("expected voices failure to be reported")
	}
	if !strings.Contains(out, "English") || !strings.Contains(out, "Friendly") {
		t.Fatalf("healthy sources missing:\n%s", out)
	}
	if !strings.Contains(out, catalog.LoadFailedMessage) {
		t.Fatalf("expected failure message:\n%s", out)
	}
}
