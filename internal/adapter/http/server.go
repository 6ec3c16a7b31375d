package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cwygoda/extractd/internal/domain"
)

const maxBodyBytes = 10 << 20

// Server is the HTTP adapter for the extraction service.
type Server struct {
	svc         *domain.JobService
	mux         *http.ServeMux
	server      *http.Server
	secret      string
	persistence string
	logger      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPersistence names the job store in the service metadata.
func WithPersistence(name string) Option {
	return func(s *Server) { s.persistence = name }
}

// NewServer creates a new HTTP server. When secret is non-empty, submissions
// must carry a valid X-Timestamp/X-Signature pair.
func NewServer(svc *domain.JobService, addr string, secret string, opts ...Option) *Server {
	s := &Server{
		svc:         svc,
		mux:         http.NewServeMux(),
		secret:      secret,
		persistence: "sqlite",
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           withCORS(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /extract", s.handleSubmit)
	s.mux.HandleFunc("GET /extract/{request_id}", s.handleGetExtraction)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
}

// extractRequest is the request body for POST /extract. Pointers tell a
// missing field apart from an empty one.
type extractRequest struct {
	IdempotencyKey *string `json:"idempotency_key"`
	DocumentText   *string `json:"document_text"`
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

type resultResponse struct {
	DocType       string   `json:"doc_type"`
	InvoiceNumber *string  `json:"invoice_number"`
	InvoiceDate   *string  `json:"invoice_date"`
	TotalAmount   *float64 `json:"total_amount"`
	Currency      *string  `json:"currency"`
}

type failureResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// extractionResponse is the JSON response for GET /extract/{request_id}.
type extractionResponse struct {
	RequestID string           `json:"request_id"`
	Status    string           `json:"status"`
	Result    *resultResponse  `json:"result"`
	Error     *failureResponse `json:"error"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	// Read body for verification and parsing
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// Verify signature if secret is configured
	if s.secret != "" {
		if err := s.verifySignature(r, body); err != nil {
			s.logger.Warn("submission verification failed", "error", err)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
	}

	var req extractRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "must be a string", Field: typeErr.Field})
			return
		}
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.IdempotencyKey == nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "is required", Field: "idempotency_key"})
		return
	}
	if req.DocumentText == nil {
		s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "is required", Field: "document_text"})
		return
	}

	s.logger.Info("submit extraction received", "idempotency_key", *req.IdempotencyKey)
	job, err := s.svc.Submit(r.Context(), *req.IdempotencyKey, *req.DocumentText)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			s.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: verr.Reason, Field: verr.Field})
			return
		}
		s.logger.Error("submit failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, submitResponse{RequestID: job.ID, Status: string(job.Status)})
}

const maxTimestampSkew = 5 * time.Minute

func (s *Server) verifySignature(r *http.Request, body []byte) error {
	// Check X-Timestamp header
	timestamp := r.Header.Get("X-Timestamp")
	if timestamp == "" {
		return fmt.Errorf("missing X-Timestamp header")
	}

	ts, err := time.Parse(time.RFC3339, timestamp)
	if err != nil {
		return fmt.Errorf("invalid X-Timestamp: must be ISO8601/RFC3339 format")
	}

	skew := time.Since(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > maxTimestampSkew {
		return fmt.Errorf("X-Timestamp too far from current time (skew: %v, max: %v)", skew.Truncate(time.Second), maxTimestampSkew)
	}

	// Check X-Signature header
	signature := r.Header.Get("X-Signature")
	if signature == "" {
		return fmt.Errorf("missing X-Signature header")
	}

	if signature != Sign(timestamp, body, s.secret) {
		return fmt.Errorf("invalid signature")
	}

	return nil
}

// Sign returns the X-Signature value for a submission:
// hex(SHA256("${timestamp}\n${body}\n${secret}")).
func Sign(timestamp string, body []byte, secret string) string {
	payload := fmt.Sprintf("%s\n%s\n%s", timestamp, string(body), secret)
	hash := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(hash[:])
}

func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("request_id")

	job, err := s.svc.Await(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.logger.Info("request not found", "request_id", id)
			s.writeError(w, http.StatusNotFound, "Request not found")
			return
		}
		s.logger.Error("get extraction failed", "request_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info("fetch extraction", "request_id", id, "status", job.Status)
	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":     "Idempotent Extraction API",
		"endpoints":   []string{"/extract [POST]", "/extract/{request_id} [GET]"},
		"persistence": s.persistence,
		"processing":  "asynchronous with worker queue",
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func jobToResponse(job *domain.Job) extractionResponse {
	resp := extractionResponse{RequestID: job.ID, Status: string(job.Status)}
	switch job.Status {
	case domain.StatusCompleted:
		res := resultResponse{DocType: domain.DocTypeUnknown}
		if f := job.Result; f != nil {
			if f.DocType != nil {
				res.DocType = *f.DocType
			}
			res.InvoiceNumber = f.InvoiceNumber
			res.InvoiceDate = f.InvoiceDate
			res.TotalAmount = f.TotalAmount
			res.Currency = f.Currency
		}
		resp.Result = &res
	case domain.StatusFailed:
		fail := failureResponse{Code: domain.CodeUnknown}
		if e := job.Error; e != nil {
			if e.Code != "" {
				fail.Code = e.Code
			}
			fail.Message = e.Message
		}
		resp.Error = &fail
	}
	return resp
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Timestamp, X-Signature")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
