package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/cwygoda/extractd/internal/domain"
)

// mockRepo implements domain.JobRepository for testing.
type mockRepo struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMockRepo() *mockRepo {
	return &mockRepo{jobs: make(map[string]*domain.Job)}
}

func (m *mockRepo) Create(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.IdempotencyKey == job.IdempotencyKey {
			return domain.ErrDuplicateKey
		}
	}
	copy := *job
	m.jobs[job.ID] = &copy
	return nil
}

func (m *mockRepo) Get(ctx context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copy := *job
	return &copy, nil
}

func (m *mockRepo) GetByKey(ctx context.Context, key string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.IdempotencyKey == key {
			copy := *j
			return &copy, nil
		}
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockRepo) FindPending(ctx context.Context, limit int) ([]domain.Job, error) {
	return nil, nil
}

func (m *mockRepo) Complete(ctx context.Context, id string, fields domain.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = domain.StatusCompleted
	m.jobs[id].Result = &fields
	return nil
}

func (m *mockRepo) Fail(ctx context.Context, id string, jobErr domain.JobError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = domain.StatusFailed
	m.jobs[id].Error = &jobErr
	return nil
}

type nopQueue struct{}

func (nopQueue) Enqueue(ctx context.Context, id string) error { return nil }

func setupTestServer(opts ...Option) (*Server, *mockRepo) {
	repo := newMockRepo()
	svc := domain.NewJobService(repo, nopQueue{}, domain.WithPollWindow(0, 0))
	return NewServer(svc, ":8080", "", opts...), repo
}

func submit(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/extract", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func fetch(t *testing.T, srv *Server, id string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/extract/"+id, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return rec, resp
}

func TestServer_Submit_Success(t *testing.T) {
	srv, _ := setupTestServer()

	rec := submit(t, srv, `{"idempotency_key":"k1","document_text":"Invoice #: A-1"}`)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp submitResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(resp.RequestID) != len("req_")+12 {
		t.Errorf("request_id = %q, want req_ plus 12 hex chars", resp.RequestID)
	}
	if resp.Status != "PENDING" {
		t.Errorf("status = %q, want %q", resp.Status, "PENDING")
	}
}

func TestServer_Submit_Idempotent(t *testing.T) {
	srv, repo := setupTestServer()

	var first, second submitResponse
	json.NewDecoder(submit(t, srv, `{"idempotency_key":"same","document_text":"a"}`).Body).Decode(&first)
	json.NewDecoder(submit(t, srv, `{"idempotency_key":"same","document_text":"b"}`).Body).Decode(&second)

	if first.RequestID != second.RequestID {
		t.Errorf("request ids differ: %q vs %q", first.RequestID, second.RequestID)
	}
	if n := len(repo.jobs); n != 1 {
		t.Errorf("jobs created = %d, want 1", n)
	}
}

func TestServer_Submit_Rejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `not json`, http.StatusBadRequest},
		{"missing key", `{"document_text":"x"}`, http.StatusUnprocessableEntity},
		{"missing text", `{"idempotency_key":"k"}`, http.StatusUnprocessableEntity},
		{"empty key", `{"idempotency_key":"","document_text":"x"}`, http.StatusUnprocessableEntity},
		{"empty text", `{"idempotency_key":"k","document_text":""}`, http.StatusUnprocessableEntity},
		{"wrong type", `{"idempotency_key":42,"document_text":"x"}`, http.StatusUnprocessableEntity},
		{"key too long", `{"idempotency_key":"` + string(bytes.Repeat([]byte("k"), 256)) + `","document_text":"x"}`, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := setupTestServer()
			if rec := submit(t, srv, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_Submit_Signature(t *testing.T) {
	repo := newMockRepo()
	svc := domain.NewJobService(repo, nopQueue{})
	srv := NewServer(svc, ":8080", "s3cret")

	body := `{"idempotency_key":"signed","document_text":"x"}`
	ts := time.Now().UTC().Format(time.RFC3339)

	tests := []struct {
		name      string
		timestamp string
		signature string
		want      int
	}{
		{"valid", ts, Sign(ts, []byte(body), "s3cret"), http.StatusOK},
		{"missing headers", "", "", http.StatusUnauthorized},
		{"bad signature", ts, "deadbeef", http.StatusUnauthorized},
		{"stale timestamp", "2000-01-01T00:00:00Z", Sign("2000-01-01T00:00:00Z", []byte(body), "s3cret"), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/extract", bytes.NewBufferString(body))
			if tt.timestamp != "" {
				req.Header.Set("X-Timestamp", tt.timestamp)
			}
			if tt.signature != "" {
				req.Header.Set("X-Signature", tt.signature)
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_Get_Pending(t *testing.T) {
	srv, _ := setupTestServer()

	var created submitResponse
	json.NewDecoder(submit(t, srv, `{"idempotency_key":"p","document_text":"x"}`).Body).Decode(&created)

	rec, resp := fetch(t, srv, created.RequestID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if resp["status"] != "PENDING" {
		t.Errorf("status = %v, want PENDING", resp["status"])
	}
	if resp["result"] != nil || resp["error"] != nil {
		t.Errorf("result = %v, error = %v, want both null", resp["result"], resp["error"])
	}
}

func TestServer_Get_Completed(t *testing.T) {
	srv, repo := setupTestServer()

	var created submitResponse
	json.NewDecoder(submit(t, srv, `{"idempotency_key":"c","document_text":"x"}`).Body).Decode(&created)
	repo.Complete(context.Background(), created.RequestID, domain.Fields{
		InvoiceNumber: domain.StringPtr("INV-1"),
		TotalAmount:   domain.FloatPtr(45),
	})

	_, resp := fetch(t, srv, created.RequestID)
	if resp["status"] != "COMPLETED" {
		t.Fatalf("status = %v, want COMPLETED", resp["status"])
	}
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("result = %v, want object", resp["result"])
	}
	if result["doc_type"] != "unknown" {
		t.Errorf("doc_type = %v, want unknown for a null doc type", result["doc_type"])
	}
	if result["invoice_number"] != "INV-1" || result["total_amount"] != 45.0 {
		t.Errorf("result = %v", result)
	}
	if v, present := result["currency"]; !present || v != nil {
		t.Errorf("currency = %v (present %v), want explicit null", v, present)
	}
	if resp["error"] != nil {
		t.Errorf("error = %v, want null", resp["error"])
	}
}

func TestServer_Get_Failed(t *testing.T) {
	srv, repo := setupTestServer()

	var created submitResponse
	json.NewDecoder(submit(t, srv, `{"idempotency_key":"f","document_text":"x"}`).Body).Decode(&created)
	repo.Fail(context.Background(), created.RequestID, domain.JobError{Message: "no code"})

	_, resp := fetch(t, srv, created.RequestID)
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("error = %v, want object", resp["error"])
	}
	if errObj["code"] != domain.CodeUnknown {
		t.Errorf("code = %v, want %s", errObj["code"], domain.CodeUnknown)
	}
	if errObj["message"] != "no code" {
		t.Errorf("message = %v, want %q", errObj["message"], "no code")
	}
	if resp["result"] != nil {
		t.Errorf("result = %v, want null", resp["result"])
	}
}

func TestServer_Get_NotFound(t *testing.T) {
	srv, _ := setupTestServer()

	rec, resp := fetch(t, srv, "req_000000000000")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if resp["error"] != "Request not found" {
		t.Errorf("error = %v, want %q", resp["error"], "Request not found")
	}
}

func TestServer_Health(t *testing.T) {
	srv, _ := setupTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestServer_Root(t *testing.T) {
	srv, _ := setupTestServer(WithPersistence("postgres"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp["persistence"] != "postgres" {
		t.Errorf("persistence = %v, want postgres", resp["persistence"])
	}

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServer_ContentTypeAndCORS(t *testing.T) {
	srv, _ := setupTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	if origin := rec.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", origin)
	}
}
