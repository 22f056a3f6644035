package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ragline/raglined/internal/answer"
	"github.com/ragline/raglined/internal/notify"
	"github.com/ragline/raglined/internal/ollama"
	"github.com/ragline/raglined/internal/retrieval"
	"github.com/ragline/raglined/internal/storage"
)

const testToken = "test-token"

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

type stubGenerator struct {
	deltas []string
}

func (g *stubGenerator) ChatStream(_ context.Context, _ string, _ string, _ []ollama.Message, onDelta func(string) error) error {
	for _, d := range g.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return nil
}

type recordingBlobDeleter struct {
	urls []string
}

func (r *recordingBlobDeleter) Delete(_ context.Context, url string) error {
	r.urls = append(r.urls, url)
	return nil
}

type apiFixture struct {
	store   *storage.Store
	blobs   *recordingBlobDeleter
	handler http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	chunks := retrieval.NewChunkStore(s.DB())
	generator := &stubGenerator{deltas: []string{"All ", "good."}}
	answerer := answer.NewService(s, stubEmbedder{}, chunks, generator, "llama3.1")
	blobs := &recordingBlobDeleter{}

	return &apiFixture{
		store: s,
		blobs: blobs,
		handler: NewHandler(Deps{
			Store:    s,
			Chunks:   chunks,
			Answerer: answerer,
			Hub:      notify.NewHub(),
			Blobs:    blobs,
			Token:    testToken,
		}),
	}
}

// do performs an authenticated request against the handler and decodes the
// JSON response into out when out is non-nil.
func (f *apiFixture) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding %s %s response %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec
}

func (f *apiFixture) createBot(t *testing.T, tenantID, name string) botResponse {
	t.Helper()
	var bot botResponse
	rec := f.do(t, http.MethodPost, "/v1/bots", createBotRequest{TenantID: tenantID, Name: name}, &bot)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create bot: status %d body %s", rec.Code, rec.Body.String())
	}
	return bot
}

func (f *apiFixture) registerDocument(t *testing.T, botID string) documentResponse {
	t.Helper()
	var doc documentResponse
	rec := f.do(t, http.MethodPost, "/v1/bots/"+botID+"/documents", registerDocumentRequest{
		FileName:   "faq.txt",
		MediaType:  "text/plain",
		FileSize:   42,
		StorageURL: "http://blobs.local/" + botID + "/faq.txt",
	}, &doc)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register document: status %d body %s", rec.Code, rec.Body.String())
	}
	return doc
}

func TestHealthNeedsNoAuth(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic " + testToken},
		{"wrong token", "Bearer wrong"},
		{"token prefix only", "Bearer "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/bots?tenantId=t", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			f.handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestCreateBot(t *testing.T) {
	f := newAPIFixture(t)

	bot := f.createBot(t, "tenant-1", "support")
	if bot.ID == "" || bot.TenantID != "tenant-1" || bot.Name != "support" {
		t.Errorf("bot = %+v", bot)
	}
	if bot.RAGConfig != storage.DefaultRAGConfig() {
		t.Errorf("ragConfig = %+v, want defaults when omitted", bot.RAGConfig)
	}
	if bot.CreatedAt.IsZero() {
		t.Error("createdAt not set")
	}
}

func TestCreateBotValidation(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		name string
		req  createBotRequest
	}{
		{"missing tenant", createBotRequest{Name: "x"}},
		{"missing name", createBotRequest{TenantID: "t"}},
		{"overlap not below chunk size", createBotRequest{
			TenantID:  "t",
			Name:      "x",
			RAGConfig: &storage.RAGConfig{ChunkSize: 100, Overlap: 100, TopK: 3},
		}},
		{"zero topK", createBotRequest{
			TenantID:  "t",
			Name:      "x",
			RAGConfig: &storage.RAGConfig{ChunkSize: 100, Overlap: 10},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := f.do(t, http.MethodPost, "/v1/bots", tc.req, nil); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGetBotNotFound(t *testing.T) {
	f := newAPIFixture(t)

	if rec := f.do(t, http.MethodGet, "/v1/bots/nope", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestListBotsScopedToTenant(t *testing.T) {
	f := newAPIFixture(t)
	f.createBot(t, "tenant-1", "a")
	f.createBot(t, "tenant-1", "b")
	f.createBot(t, "tenant-2", "c")

	var bots []botResponse
	if rec := f.do(t, http.MethodGet, "/v1/bots?tenantId=tenant-1", nil, &bots); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(bots) != 2 {
		t.Errorf("got %d bots, want 2", len(bots))
	}
	for _, b := range bots {
		if b.TenantID != "tenant-1" {
			t.Errorf("bot %s belongs to %s", b.ID, b.TenantID)
		}
	}

	if rec := f.do(t, http.MethodGet, "/v1/bots", nil, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("listing without tenantId: status = %d, want 400", rec.Code)
	}
}

func TestRegisterDocument(t *testing.T) {
	f := newAPIFixture(t)
	bot := f.createBot(t, "tenant-1", "support")

	doc := f.registerDocument(t, bot.ID)
	if doc.Status != storage.StatusUploaded {
		t.Errorf("status = %s, want %s", doc.Status, storage.StatusUploaded)
	}
	if !doc.ProcessedAt.IsZero() {
		t.Errorf("processedAt set before processing: %v", doc.ProcessedAt)
	}

	// The ingestion job is queued atomically with the document.
	job, err := f.store.ClaimNextJob([]string{"document_ingest"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no ingestion job enqueued")
	}
	if !strings.Contains(job.PayloadJSON, doc.ID) {
		t.Errorf("job payload %q does not reference document %s", job.PayloadJSON, doc.ID)
	}
}

func TestRegisterDocumentValidation(t *testing.T) {
	f := newAPIFixture(t)
	bot := f.createBot(t, "tenant-1", "support")

	rec := f.do(t, http.MethodPost, "/v1/bots/nope/documents", registerDocumentRequest{
		FileName: "x", MediaType: "text/plain", StorageURL: "http://b/x",
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown bot: status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/bots/"+bot.ID+"/documents", registerDocumentRequest{
		FileName: "x", MediaType: "image/png", StorageURL: "http://b/x",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported media type: status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/bots/"+bot.ID+"/documents", registerDocumentRequest{
		MediaType: "text/plain",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing fields: status = %d, want 400", rec.Code)
	}
}

func TestRegisterDocumentDuplicateStorageURLConflicts(t *testing.T) {
	f := newAPIFixture(t)
	bot := f.createBot(t, "tenant-1", "support")
	f.registerDocument(t, bot.ID)

	rec := f.do(t, http.MethodPost, "/v1/bots/"+bot.ID+"/documents", registerDocumentRequest{
		FileName:   "faq-again.txt",
		MediaType:  "text/plain",
		StorageURL: "http://blobs.local/" + bot.ID + "/faq.txt",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "conflict_error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestDeleteDocumentRemovesBlob(t *testing.T) {
	f := newAPIFixture(t)
	bot := f.createBot(t, "tenant-1", "support")
	doc := f.registerDocument(t, bot.ID)

	if rec := f.do(t, http.MethodDelete, "/v1/documents/"+doc.ID, nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/documents/"+doc.ID, nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted document still readable: status = %d", rec.Code)
	}
	if len(f.blobs.urls) != 1 {
		t.Errorf("blob deletes = %v, want one", f.blobs.urls)
	}
}

func TestDeleteBotRemovesDocumentBlobs(t *testing.T) {
	f := newAPIFixture(t)
	bot := f.createBot(t, "tenant-1", "support")
	f.registerDocument(t, bot.ID)

	if rec := f.do(t, http.MethodDelete, "/v1/bots/"+bot.ID, nil, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/bots/"+bot.ID, nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted bot still readable: status = %d", rec.Code)
	}
	if len(f.blobs.urls) != 1 {
		t.Errorf("blob deletes = %v, want one", f.blobs.urls)
	}
}

func TestTenantSettingsNeverEchoKey(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPut, "/v1/tenants/tenant-1/settings",
		tenantSettingsRequest{GenerationAPIKey: "sk-secret"}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put settings: status = %d", rec.Code)
	}

	var got map[string]any
	rec = f.do(t, http.MethodGet, "/v1/tenants/tenant-1/settings", nil, &got)
	if rec.Code != http.StatusOK {
		t.Fatalf("get settings: status = %d", rec.Code)
	}
	if got["keyConfigured"] != true {
		t.Errorf("keyConfigured = %v", got["keyConfigured"])
	}
	if strings.Contains(rec.Body.String(), "sk-secret") {
		t.Error("stored key echoed in the response")
	}

	if rec := f.do(t, http.MethodGet, "/v1/tenants/tenant-2/settings", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unset tenant: status = %d, want 404", rec.Code)
	}
}

func TestChatStreamsPlainText(t *testing.T) {
	f := newAPIFixture(t)
	bot := f.createBot(t, "tenant-1", "support")
	f.do(t, http.MethodPut, "/v1/tenants/tenant-1/settings",
		tenantSettingsRequest{GenerationAPIKey: "sk-tenant"}, nil)

	rec := f.do(t, http.MethodPost, "/v1/bots/"+bot.ID+"/chat", chatRequest{
		Messages: []ollama.Message{{Role: "user", Content: "Is everything ok?"}},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	if rec.Body.String() != "All good." {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestChatErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	bot := f.createBot(t, "tenant-1", "support")

	cases := []struct {
		name     string
		botID    string
		messages []ollama.Message
		setup    func()
		want     int
	}{
		{
			name:  "unknown bot",
			botID: "nope",
			messages: []ollama.Message{
				{Role: "user", Content: "hi"},
			},
			want: http.StatusNotFound,
		},
		{
			name:  "credentials not configured",
			botID: bot.ID,
			messages: []ollama.Message{
				{Role: "user", Content: "hi"},
			},
			want: http.StatusPreconditionFailed,
		},
		{
			name:  "no user question",
			botID: bot.ID,
			setup: func() {
				f.do(t, http.MethodPut, "/v1/tenants/tenant-1/settings",
					tenantSettingsRequest{GenerationAPIKey: "sk"}, nil)
			},
			messages: nil,
			want:     http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setup != nil {
				tc.setup()
			}
			rec := f.do(t, http.MethodPost, "/v1/bots/"+tc.botID+"/chat", chatRequest{Messages: tc.messages}, nil)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestEventsStreamDeliversCompletion(t *testing.T) {
	f := newAPIFixture(t)
	hub := notify.NewHub()
	handler := NewHandler(Deps{
		Store:    f.store,
		Hub:      hub,
		Token:    testToken,
		Answerer: nil,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events", nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /v1/events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// The subscription is registered before the response headers are
	// written, so publishing after reading them is race-free.
	hub.DocumentCompleted("doc-1", storage.StatusProcessed)

	buf := make([]byte, 512)
	n, err := resp.Body.Read(buf)
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}
	frame := string(buf[:n])
	if !strings.Contains(frame, "event: document") {
		t.Errorf("frame = %q", frame)
	}
	if !strings.Contains(frame, fmt.Sprintf("%q", "doc-1")) || !strings.Contains(frame, storage.StatusProcessed) {
		t.Errorf("frame payload = %q", frame)
	}
}
