package api

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdf-capture-service/internal/capture"
	"github.com/JakeFAU/pdf-capture-service/internal/download"
	"github.com/JakeFAU/pdf-capture-service/internal/metrics"
	"github.com/JakeFAU/pdf-capture-service/internal/policy/hosts"
	"github.com/JakeFAU/pdf-capture-service/internal/policy/ratelimit"
	"github.com/JakeFAU/pdf-capture-service/internal/upload"
)

const (
	defaultRequestTimeout = 180 * time.Second
	maxRequestBody        = 1 << 20
	bannerMessage         = "PDF capture service is running"
)

// Error categories that are not capture kinds.
const (
	categoryValidation  = "ValidationError"
	categoryRateLimited = "RateLimited"
	categoryForbidden   = "Forbidden"
	categoryAPIKey      = "Unauthorized"
)

// Downloader runs one download request.
type Downloader interface {
	Download(ctx context.Context, sourceURL string) (download.Result, error)
}

// AuthFlow drives the storage authorization flow.
type AuthFlow interface {
	Begin() (string, error)
	Complete(ctx context.Context, state, code string) error
	Authorized() bool
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options tunes the Server.
type Options struct {
	APIKey         string
	AuthEnabled    bool
	Version        string
	RequestTimeout time.Duration
	Ready          ReadinessCheck
}

// Server wires HTTP handlers to the download service.
type Server struct {
	router     chi.Router
	downloader Downloader
	flow       AuthFlow
	opts       Options
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. flow may be nil,
// in which case the authorization routes are not served.
func NewServer(downloader Downloader, flow AuthFlow, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		downloader: downloader,
		flow:       flow,
		opts:       opts,
		logger:     logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(opts.RequestTimeout))
	if opts.AuthEnabled {
		r.Use(apiKeyMiddleware(opts.APIKey, "/", "/healthz", "/readyz", "/oauth2callback"))
	}

	r.Get("/", s.banner)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/download-cv", s.downloadCV)

	if flow != nil {
		r.Get("/auth", s.beginAuth)
		r.Get("/oauth2callback", s.oauthCallback)
		r.Get("/auth/status", s.authStatus)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) banner(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": bannerMessage,
		"version": s.opts.Version,
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type downloadRequest struct {
	SourceURL string `json:"sourceURL"`
	URL       string `json:"url"`
}

func (r downloadRequest) target() string {
	if strings.TrimSpace(r.SourceURL) != "" {
		return r.SourceURL
	}
	return r.URL
}

type downloadResponse struct {
	Success   bool          `json:"success"`
	CaptureID string        `json:"captureId"`
	Filename  string        `json:"filename"`
	Filesize  int           `json:"filesize"`
	Content   string        `json:"content"`
	MimeType  string        `json:"mimeType"`
	SHA256    string        `json:"sha256,omitempty"`
	Storage   upload.Result `json:"storage"`
}

type errorResponse struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	Category string `json:"category"`
}

func (s *Server) downloadCV(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, categoryValidation, "invalid JSON body")
		return
	}
	res, err := s.downloader.Download(r.Context(), req.target())
	if err != nil {
		status, category := classify(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("download failed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("category", category),
				zap.Error(err),
			)
		}
		writeError(w, status, category, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, downloadResponse{
		Success:   true,
		CaptureID: res.CaptureID,
		Filename:  res.Filename,
		Filesize:  res.Size(),
		Content:   base64.StdEncoding.EncodeToString(res.Content),
		MimeType:  res.MimeType,
		SHA256:    res.SHA256,
		Storage:   res.Storage,
	})
}

// classify maps a download error to an HTTP status and response category.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, download.ErrInvalidURL):
		return http.StatusBadRequest, categoryValidation
	case errors.Is(err, hosts.ErrBlocked):
		return http.StatusForbidden, categoryForbidden
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests, categoryRateLimited
	}
	kind := capture.KindOf(err)
	switch kind {
	case capture.KindUnauthorized:
		return http.StatusUnauthorized, string(kind)
	case capture.KindSessionConnect:
		return http.StatusBadGateway, string(kind)
	case capture.KindNavigationTimeout, capture.KindCaptureTimeout:
		return http.StatusGatewayTimeout, string(kind)
	default:
		return http.StatusInternalServerError, string(kind)
	}
}

func (s *Server) beginAuth(w http.ResponseWriter, r *http.Request) {
	authURL, err := s.flow.Begin()
	if err != nil {
		s.logger.Error("begin authorization failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, string(capture.KindUnknown), "could not start authorization")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) oauthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		writeError(w, http.StatusBadRequest, categoryValidation, "authorization denied: "+denied)
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, categoryValidation, "state and code are required")
		return
	}
	if err := s.flow.Complete(r.Context(), state, code); err != nil {
		s.logger.Warn("authorization callback failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, string(capture.KindUnauthorized), err.Error())
		return
	}
	s.logger.Info("storage authorization stored")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "authorized": true})
}

func (s *Server) authStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"authorized": s.flow.Authorized()})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestIDFrom(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.Stack("stack"))
					writeError(w, http.StatusInternalServerError, string(capture.KindUnknown), "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"success":false,"error":"request timed out","category":"Timeout"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func apiKeyMiddleware(expected string, exempt ...string) func(http.Handler) http.Handler {
	open := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		open[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := open[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusUnauthorized, categoryAPIKey, "missing or invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, category, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg, Category: category})
}
