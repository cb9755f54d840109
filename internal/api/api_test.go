package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/botsmith/internal/chat"
	"github.com/kalambet/botsmith/internal/ingest"
	"github.com/kalambet/botsmith/internal/llm"
	"github.com/kalambet/botsmith/internal/metrics"
	"github.com/kalambet/botsmith/internal/objstore"
	"github.com/kalambet/botsmith/internal/storage"
)

const testBaseURL = "http://botsmith.test"

// --- mocks ---

type mockIngester struct {
	store storage.Repository

	mu        sync.Mutex
	jobs      []ingest.Job
	cancelled []string
	err       error
}

func (m *mockIngester) Ingest(job ingest.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func (m *mockIngester) Reprocess(id string) (storage.TrainingData, error) {
	m.Cancel(id)
	td, err := m.store.ResetTrainingData(id)
	if err != nil {
		return storage.TrainingData{}, err
	}
	if err := m.Ingest(ingest.Job{TrainingDataID: td.ID, FileRef: td.FileURL, FileName: td.FileName}); err != nil {
		return storage.TrainingData{}, err
	}
	return td, nil
}

func (m *mockIngester) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, id)
	return false
}

type fakeCompleter struct {
	configured bool
	reply      string
	err        error

	mu   sync.Mutex
	reqs []llm.Request
}

func (f *fakeCompleter) Configured() bool { return f.configured }

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	return f.reply, f.err
}

// --- helpers ---

type testEnv struct {
	handler   http.Handler
	store     *storage.MemoryStore
	ingester  *mockIngester
	completer *fakeCompleter
	metrics   *metrics.Metrics
}

func setupAppHandler(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	objects, err := objstore.NewLocal(t.TempDir(), testBaseURL)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	env := &testEnv{
		store:     store,
		ingester:  &mockIngester{store: store},
		completer: &fakeCompleter{configured: true, reply: "Hello from the bot"},
		metrics:   metrics.New(),
	}
	env.handler = NewAppHandler(AppDeps{
		Store:     store,
		Objects:   objects,
		Ingester:  env.ingester,
		Responder: chat.NewResponder(store, env.completer, nil),
		Metrics:   env.metrics,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, httptest.NewRequest(method, url, reader))
	return rr
}

func (e *testEnv) createBot(t *testing.T, name string) storage.Bot {
	t.Helper()
	b, err := e.store.CreateBot(storage.BotInput{Name: name, OwnerID: storage.DefaultUserID})
	if err != nil {
		t.Fatalf("CreateBot failed: %v", err)
	}
	return b
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status = %d, want %d; body = %s", rr.Code, code, rr.Body.String())
	}
}

func wantError(t *testing.T, rr *httptest.ResponseRecorder, code int, msg string) {
	t.Helper()
	wantStatus(t, rr, code)
	resp := decode[map[string]string](t, rr)
	if resp["error"] != msg {
		t.Errorf("error = %q, want %q", resp["error"], msg)
	}
}

// --- tests ---

func TestHealth(t *testing.T) {
	env := setupAppHandler(t)
	rr := env.do(t, http.MethodGet, "/health", "")
	wantStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr); got["status"] != "ok" {
		t.Errorf("status = %q, want ok", got["status"])
	}
}

func TestUnknownRoute(t *testing.T) {
	env := setupAppHandler(t)
	wantError(t, env.do(t, http.MethodGet, "/api/nope", ""), http.StatusNotFound, "Not found")
}

func TestBots_CreateAndGet(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(t, http.MethodPost, "/api/bots", `{"name":"Cafe Helper","description":"Answers menu questions"}`)
	wantStatus(t, rr, http.StatusCreated)
	created := decode[storage.Bot](t, rr)
	if created.ID == "" {
		t.Fatal("created bot has no id")
	}
	if created.Status != storage.BotDraft {
		t.Errorf("status = %q, want draft", created.Status)
	}
	if created.OwnerID != storage.DefaultUserID {
		t.Errorf("ownerId = %q, want %q", created.OwnerID, storage.DefaultUserID)
	}

	rr = env.do(t, http.MethodGet, "/api/bots/"+created.ID, "")
	wantStatus(t, rr, http.StatusOK)
	got := decode[storage.Bot](t, rr)
	if got.Name != "Cafe Helper" || got.Description == nil || *got.Description != "Answers menu questions" {
		t.Errorf("got %+v", got)
	}

	rr = env.do(t, http.MethodGet, "/api/bots", "")
	wantStatus(t, rr, http.StatusOK)
	if list := decode[[]storage.Bot](t, rr); len(list) != 1 {
		t.Errorf("len(list) = %d, want 1", len(list))
	}
}

func TestBots_ListEmptyIsArray(t *testing.T) {
	env := setupAppHandler(t)
	rr := env.do(t, http.MethodGet, "/api/bots", "")
	wantStatus(t, rr, http.StatusOK)
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("body = %q, want []", rr.Body.String())
	}
}

func TestBots_CreateValidation(t *testing.T) {
	env := setupAppHandler(t)

	tests := []struct {
		name string
		body string
		msg  string
	}{
		{"malformed", `{"name":`, "Invalid request body"},
		{"missing name", `{"description":"x"}`, "name is required"},
		{"blank name", `{"name":"  "}`, "name is required"},
		{"bad status", `{"name":"a","status":"retired"}`, `Invalid status "retired"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantError(t, env.do(t, http.MethodPost, "/api/bots", tt.body), http.StatusBadRequest, tt.msg)
		})
	}
}

func TestBots_GetUnknown(t *testing.T) {
	env := setupAppHandler(t)
	wantError(t, env.do(t, http.MethodGet, "/api/bots/missing", ""), http.StatusNotFound, "Bot not found")
}

func TestBots_UpdatePartial(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Original")

	rr := env.do(t, http.MethodPut, "/api/bots/"+bot.ID, `{"status":"active"}`)
	wantStatus(t, rr, http.StatusOK)
	got := decode[storage.Bot](t, rr)
	if got.Status != storage.BotActive {
		t.Errorf("status = %q, want active", got.Status)
	}
	if got.Name != "Original" {
		t.Errorf("name = %q, want unchanged", got.Name)
	}
	if got.UpdatedAt.Before(bot.UpdatedAt) {
		t.Errorf("updatedAt went backwards")
	}

	wantError(t, env.do(t, http.MethodPut, "/api/bots/"+bot.ID, `{"status":""}`), http.StatusBadRequest, `Invalid status ""`)
	wantError(t, env.do(t, http.MethodPut, "/api/bots/"+bot.ID, `{"name":""}`), http.StatusBadRequest, "name must not be empty")
	wantError(t, env.do(t, http.MethodPut, "/api/bots/missing", `{"name":"x"}`), http.StatusNotFound, "Bot not found")
}

func TestBots_UpdateDescription(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Cafe Helper")

	rr := env.do(t, http.MethodPut, "/api/bots/"+bot.ID, `{"description":"Answers menu questions"}`)
	wantStatus(t, rr, http.StatusOK)
	if got := decode[storage.Bot](t, rr); got.Description == nil || *got.Description != "Answers menu questions" {
		t.Fatalf("description = %v, want set", got.Description)
	}

	rr = env.do(t, http.MethodPut, "/api/bots/"+bot.ID, `{"name":"Cafe Bot"}`)
	wantStatus(t, rr, http.StatusOK)
	if got := decode[storage.Bot](t, rr); got.Description == nil || *got.Description != "Answers menu questions" {
		t.Fatalf("description = %v, want unchanged when omitted", got.Description)
	}

	rr = env.do(t, http.MethodPut, "/api/bots/"+bot.ID, `{"description":null}`)
	wantStatus(t, rr, http.StatusOK)
	if got := decode[storage.Bot](t, rr); got.Description != nil {
		t.Fatalf("description = %q, want cleared", *got.Description)
	}
	stored, err := env.store.GetBot(bot.ID)
	if err != nil {
		t.Fatalf("GetBot: %v", err)
	}
	if stored.Description != nil || stored.Name != "Cafe Bot" {
		t.Errorf("stored bot = %+v", stored)
	}

	wantError(t, env.do(t, http.MethodPut, "/api/bots/"+bot.ID, `{"description":42}`), http.StatusBadRequest, "description must be a string or null")
}

func TestBots_Delete(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Doomed")

	wantStatus(t, env.do(t, http.MethodDelete, "/api/bots/"+bot.ID, ""), http.StatusNoContent)
	wantError(t, env.do(t, http.MethodDelete, "/api/bots/"+bot.ID, ""), http.StatusNotFound, "Bot not found")
}

func TestTrainingData_CreateQueuesJob(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Trainer")

	body := `{"fileUrl":"` + testBaseURL + `/api/objects/uploads/abc","fileName":"menu.txt","fileSize":42,"fileType":"text/plain"}`
	rr := env.do(t, http.MethodPost, "/api/bots/"+bot.ID+"/training-data", body)
	wantStatus(t, rr, http.StatusCreated)

	td := decode[storage.TrainingData](t, rr)
	if td.FileURL != "/objects/uploads/abc" {
		t.Errorf("fileUrl = %q, want normalized /objects/uploads/abc", td.FileURL)
	}
	if td.Processed || td.Content != nil {
		t.Errorf("new record should be unprocessed without content: %+v", td)
	}
	if td.FileSize != 42 || td.FileType != "text/plain" {
		t.Errorf("size/type = %d/%q", td.FileSize, td.FileType)
	}

	if len(env.ingester.jobs) != 1 {
		t.Fatalf("queued jobs = %d, want 1", len(env.ingester.jobs))
	}
	job := env.ingester.jobs[0]
	if job.TrainingDataID != td.ID || job.FileRef != td.FileURL || job.FileName != "menu.txt" {
		t.Errorf("job = %+v", job)
	}
}

func TestTrainingData_CreateValidation(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Trainer")

	wantError(t, env.do(t, http.MethodPost, "/api/bots/"+bot.ID+"/training-data", `{"fileName":"a.txt"}`),
		http.StatusBadRequest, "fileUrl and fileName are required")
	wantError(t, env.do(t, http.MethodPost, "/api/bots/missing/training-data", `{"fileUrl":"/objects/x","fileName":"a.txt"}`),
		http.StatusNotFound, "Bot not found")
}

func TestTrainingData_QueueFullMarksFailed(t *testing.T) {
	env := setupAppHandler(t)
	env.ingester.err = ingest.ErrQueueFull
	bot := env.createBot(t, "Busy")

	rr := env.do(t, http.MethodPost, "/api/bots/"+bot.ID+"/training-data", `{"fileUrl":"/objects/x","fileName":"a.txt"}`)
	wantStatus(t, rr, http.StatusCreated)
	td := decode[storage.TrainingData](t, rr)
	if td.Processed {
		t.Error("record should not be processed")
	}
	if td.ProcessingError == "" {
		t.Error("expected processingError to be recorded")
	}
}

func TestTrainingData_ListGetDelete(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Trainer")
	td, err := env.store.CreateTrainingData(storage.TrainingDataInput{BotID: bot.ID, FileName: "a.txt", FileURL: "/objects/a"})
	if err != nil {
		t.Fatalf("CreateTrainingData failed: %v", err)
	}

	rr := env.do(t, http.MethodGet, "/api/bots/"+bot.ID+"/training-data", "")
	wantStatus(t, rr, http.StatusOK)
	if list := decode[[]storage.TrainingData](t, rr); len(list) != 1 || list[0].ID != td.ID {
		t.Errorf("list = %+v", list)
	}

	wantStatus(t, env.do(t, http.MethodGet, "/api/training-data/"+td.ID, ""), http.StatusOK)

	wantStatus(t, env.do(t, http.MethodDelete, "/api/training-data/"+td.ID, ""), http.StatusNoContent)
	if len(env.ingester.cancelled) != 1 || env.ingester.cancelled[0] != td.ID {
		t.Errorf("cancelled = %v, want [%s]", env.ingester.cancelled, td.ID)
	}
	wantError(t, env.do(t, http.MethodDelete, "/api/training-data/"+td.ID, ""), http.StatusNotFound, "Training data not found")
	wantError(t, env.do(t, http.MethodGet, "/api/training-data/"+td.ID, ""), http.StatusNotFound, "Training data not found")
}

func TestTrainingData_Reprocess(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Trainer")
	td, _ := env.store.CreateTrainingData(storage.TrainingDataInput{BotID: bot.ID, FileName: "a.pdf", FileURL: "/objects/a"})
	if _, err := env.store.FailTrainingData(td.ID, "boom"); err != nil {
		t.Fatalf("FailTrainingData failed: %v", err)
	}

	rr := env.do(t, http.MethodPost, "/api/training-data/"+td.ID+"/reprocess", "")
	wantStatus(t, rr, http.StatusAccepted)
	got := decode[storage.TrainingData](t, rr)
	if got.ProcessingError != "" {
		t.Errorf("processingError = %q, want cleared", got.ProcessingError)
	}
	if len(env.ingester.jobs) != 1 {
		t.Errorf("queued jobs = %d, want 1", len(env.ingester.jobs))
	}

	wantError(t, env.do(t, http.MethodPost, "/api/training-data/missing/reprocess", ""), http.StatusNotFound, "Training data not found")

	env.ingester.err = ingest.ErrQueueFull
	wantStatus(t, env.do(t, http.MethodPost, "/api/training-data/"+td.ID+"/reprocess", ""), http.StatusServiceUnavailable)
}

func TestObjects_UploadRoundTrip(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(t, http.MethodPost, "/api/objects/upload", "")
	wantStatus(t, rr, http.StatusOK)
	uploadURL := decode[map[string]string](t, rr)["uploadURL"]
	if !strings.HasPrefix(uploadURL, testBaseURL+objstore.LocalUploadPath) {
		t.Fatalf("uploadURL = %q", uploadURL)
	}

	path := strings.TrimPrefix(uploadURL, testBaseURL)
	rr = env.do(t, http.MethodPut, path, "We open at 8am.")
	wantStatus(t, rr, http.StatusOK)
	resp := decode[map[string]any](t, rr)
	id := strings.TrimPrefix(path, objstore.LocalUploadPath)
	if resp["objectPath"] != "/objects/uploads/"+id {
		t.Errorf("objectPath = %v", resp["objectPath"])
	}

	// The same id cannot be written twice.
	wantStatus(t, env.do(t, http.MethodPut, path, "again"), http.StatusBadRequest)
}

func TestIntegrations_CRUD(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Connected")

	wantError(t, env.do(t, http.MethodPost, "/api/bots/"+bot.ID+"/integrations", `{"config":{}}`),
		http.StatusBadRequest, "platform is required")
	wantError(t, env.do(t, http.MethodPost, "/api/bots/missing/integrations", `{"platform":"whatsapp"}`),
		http.StatusNotFound, "Bot not found")

	rr := env.do(t, http.MethodPost, "/api/bots/"+bot.ID+"/integrations", `{"platform":"whatsapp","config":{"phone":"+1555"}}`)
	wantStatus(t, rr, http.StatusCreated)
	integ := decode[storage.Integration](t, rr)
	if integ.Enabled || integ.ConnectedAt != nil {
		t.Errorf("new integration should be disabled and unconnected: %+v", integ)
	}

	rr = env.do(t, http.MethodPut, "/api/integrations/"+integ.ID, `{"enabled":true}`)
	wantStatus(t, rr, http.StatusOK)
	updated := decode[storage.Integration](t, rr)
	if !updated.Enabled || updated.ConnectedAt == nil {
		t.Errorf("enabled integration should be connected: %+v", updated)
	}
	if updated.Config["phone"] != "+1555" {
		t.Errorf("config = %v, want preserved", updated.Config)
	}

	rr = env.do(t, http.MethodGet, "/api/bots/"+bot.ID+"/integrations", "")
	wantStatus(t, rr, http.StatusOK)
	if list := decode[[]storage.Integration](t, rr); len(list) != 1 {
		t.Errorf("len(list) = %d, want 1", len(list))
	}

	wantError(t, env.do(t, http.MethodPut, "/api/integrations/missing", `{"enabled":true}`), http.StatusNotFound, "Integration not found")
	wantStatus(t, env.do(t, http.MethodDelete, "/api/integrations/"+integ.ID, ""), http.StatusNoContent)
	wantError(t, env.do(t, http.MethodDelete, "/api/integrations/"+integ.ID, ""), http.StatusNotFound, "Integration not found")
}

func TestChat(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Cafe Helper")
	td, _ := env.store.CreateTrainingData(storage.TrainingDataInput{BotID: bot.ID, FileName: "menu.txt", FileURL: "/objects/m"})
	env.store.CompleteTrainingData(td.ID, "Espresso costs $3.")

	rr := env.do(t, http.MethodPost, "/api/bots/"+bot.ID+"/chat", `{"message":"How much is espresso?"}`)
	wantStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr)["response"]; got != "Hello from the bot" {
		t.Errorf("response = %q", got)
	}

	if len(env.completer.reqs) != 1 {
		t.Fatalf("completer calls = %d, want 1", len(env.completer.reqs))
	}
	if !strings.Contains(env.completer.reqs[0].System, "From menu.txt:\nEspresso costs $3.") {
		t.Errorf("system prompt missing knowledge base:\n%s", env.completer.reqs[0].System)
	}

	convs, _ := env.store.ListConversationsByBot(bot.ID)
	if len(convs) != 0 {
		t.Errorf("stateless chat stored %d conversations", len(convs))
	}
}

func TestChat_Errors(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Cafe Helper")

	wantError(t, env.do(t, http.MethodPost, "/api/bots/"+bot.ID+"/chat", `{}`), http.StatusBadRequest, "Message is required")
	wantError(t, env.do(t, http.MethodPost, "/api/bots/missing/chat", `{"message":"hi"}`), http.StatusNotFound, "Bot not found")
}

func TestChat_ProviderFailureIsNotPropagated(t *testing.T) {
	env := setupAppHandler(t)
	env.completer.err = errors.New("upstream 502: secret details")
	bot := env.createBot(t, "Cafe Helper")

	rr := env.do(t, http.MethodPost, "/api/bots/"+bot.ID+"/chat", `{"message":"hi"}`)
	wantStatus(t, rr, http.StatusOK)
	if got := decode[map[string]string](t, rr)["response"]; got != chat.FailureReply {
		t.Errorf("response = %q, want failure reply", got)
	}
}

func TestConversations_Flow(t *testing.T) {
	env := setupAppHandler(t)
	bot := env.createBot(t, "Cafe Helper")

	rr := env.do(t, http.MethodPost, "/api/bots/"+bot.ID+"/conversations", "")
	wantStatus(t, rr, http.StatusCreated)
	conv := decode[storage.Conversation](t, rr)

	rr = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", `{"message":"hi"}`)
	wantStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodGet, "/api/conversations/"+conv.ID, "")
	wantStatus(t, rr, http.StatusOK)
	got := decode[storage.Conversation](t, rr)
	if len(got.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != "user" || got.Messages[1].Content != "Hello from the bot" {
		t.Errorf("messages = %+v", got.Messages)
	}

	rr = env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/end", "")
	wantStatus(t, rr, http.StatusOK)
	if ended := decode[storage.Conversation](t, rr); ended.EndedAt == nil {
		t.Error("endedAt not set")
	}

	wantError(t, env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", `{"message":"still there?"}`),
		http.StatusConflict, "Conversation has ended")

	rr = env.do(t, http.MethodGet, "/api/bots/"+bot.ID+"/conversations", "")
	wantStatus(t, rr, http.StatusOK)
	if list := decode[[]storage.Conversation](t, rr); len(list) != 1 {
		t.Errorf("len(list) = %d, want 1", len(list))
	}

	wantStatus(t, env.do(t, http.MethodDelete, "/api/conversations/"+conv.ID, ""), http.StatusNoContent)
	wantError(t, env.do(t, http.MethodGet, "/api/conversations/"+conv.ID, ""), http.StatusNotFound, "Conversation not found")
	wantError(t, env.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", `{"message":"hi"}`),
		http.StatusNotFound, "Conversation not found")
	wantError(t, env.do(t, http.MethodPost, "/api/bots/missing/conversations", ""), http.StatusNotFound, "Bot not found")
}

func TestDashboardStats(t *testing.T) {
	env := setupAppHandler(t)

	rr := env.do(t, http.MethodGet, "/api/dashboard/stats", "")
	wantStatus(t, rr, http.StatusOK)
	empty := decode[dashboardStats](t, rr)
	if empty.SuccessRate != "0.0%" || empty.ResponseTime != "0.0s" || empty.ActiveBots != 0 {
		t.Errorf("empty stats = %+v", empty)
	}

	active, _ := env.store.CreateBot(storage.BotInput{Name: "A", Status: storage.BotActive, OwnerID: storage.DefaultUserID})
	env.createBot(t, "Draft")
	other, _ := env.store.CreateBot(storage.BotInput{Name: "Other", Status: storage.BotActive, OwnerID: "someone-else"})

	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		td, _ := env.store.CreateTrainingData(storage.TrainingDataInput{BotID: active.ID, FileName: name, FileURL: "/objects/" + name})
		if i < 2 {
			env.store.CompleteTrainingData(td.ID, "text")
		}
	}
	env.store.CreateConversation(active.ID, nil)
	env.store.CreateConversation(other.ID, nil)

	rr = env.do(t, http.MethodGet, "/api/dashboard/stats", "")
	wantStatus(t, rr, http.StatusOK)
	stats := decode[dashboardStats](t, rr)
	if stats.ActiveBots != 1 {
		t.Errorf("activeBots = %d, want 1", stats.ActiveBots)
	}
	if stats.TotalConversations != 1 {
		t.Errorf("totalConversations = %d, want 1", stats.TotalConversations)
	}
	if stats.SuccessRate != "66.7%" {
		t.Errorf("successRate = %q, want 66.7%%", stats.SuccessRate)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupAppHandler(t)
	env.do(t, http.MethodGet, "/api/bots", "")

	rr := env.do(t, http.MethodGet, "/metrics", "")
	wantStatus(t, rr, http.StatusOK)
	if !strings.Contains(rr.Body.String(), `botsmith_http_requests_total{method="GET",route="/api/bots",status="200"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", rr.Body.String())
	}
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/bots", nil))
	wantError(t, rr, http.StatusInternalServerError, "Internal server error")
}
