// Package gateway is the webhook ingestion HTTP server: per-category POST
// routes, token auth, the status endpoint and Prometheus metrics.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hookrelay/internal/config"
	"hookrelay/internal/metrics"
	"hookrelay/internal/queue"
	"hookrelay/internal/record"
	"hookrelay/internal/storage"
	logx "hookrelay/pkg/logx"
)

// Normalizer converts a common-category body into a final message at the
// HTTP boundary.
type Normalizer interface {
	Normalize(body string) (record.Renderable, error)
}

// Options captures the restart-bound parts of the gateway configuration.
// Token and group are read through funcs so hot reloads apply live.
type Options struct {
	Port      int
	Routes    map[string][]string // category -> normalized paths
	Templates map[string]string   // category -> template name
	BodyLimit int64

	Token func() string
	Group func() string
}

type Server struct {
	opts       Options
	queue      *queue.Queue
	normalizer Normalizer
	store      storage.Store // audit sink; may be nil
	metrics    *metrics.Metrics
	log        logx.Logger

	router  chi.Router
	srv     *http.Server
	running atomic.Bool
}

func New(opts Options, q *queue.Queue, normalizer Normalizer, store storage.Store, m *metrics.Metrics, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = config.DefaultBodyLimit
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}
	if opts.Group == nil {
		opts.Group = func() string { return "" }
	}

	s := &Server{
		opts:       opts,
		queue:      q,
		normalizer: normalizer,
		store:      store,
		metrics:    m,
		log:        log,
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)

	for _, path := range s.opts.Routes[config.CategoryMedia] {
		r.With(s.auth).Post(path, s.handleMedia)
	}
	for _, path := range s.opts.Routes[config.CategoryGame] {
		r.With(s.auth).Post(path, s.handleGame)
	}
	for _, path := range s.opts.Routes[config.CategoryCommon] {
		r.With(s.auth).Post(path, s.handleCommon)
	}

	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	return r
}

// Handler exposes the router (used by tests).
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the listener synchronously (so port conflicts fail fast) and
// serves until Stop. Serve errors after startup are logged, not fatal.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}

	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.running.Store(true)
	s.log.Info("webhook server listening", logx.String("addr", addr))

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.running.Store(false)
			s.log.Error("webhook server stopped", logx.Err(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.running.Store(false)
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// recoverer keeps a handler panic from killing the connection loop.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("handler panicked",
					logx.String("path", r.URL.Path),
					logx.Any("panic", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// auth enforces X-Webhook-Token when a token is configured. Rejection
// happens before any body read or queue mutation.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.opts.Token()
		if token != "" {
			presented := r.Header.Get("X-Webhook-Token")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				s.metrics.Rejected.WithLabelValues("auth").Inc()
				s.log.Warn("unauthorized webhook",
					logx.String("path", r.URL.Path),
					logx.String("remote", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.BodyLimit))
	if err != nil {
		s.metrics.Rejected.WithLabelValues("body").Inc()
		writeError(w, http.StatusInternalServerError, "body read failed")
		return "", false
	}
	return string(body), true
}

func (s *Server) audit(ctx context.Context, traceID, category, action string, ok bool, errStr string) {
	if s.store == nil {
		return
	}
	entry := storage.AuditEntry{
		At:       time.Now().UTC(),
		TraceID:  traceID,
		Category: category,
		Action:   action,
		OK:       ok,
		Error:    errStr,
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.log.Debug("audit append failed", logx.Err(err))
	}
}

func (s *Server) enqueue(ctx context.Context, w http.ResponseWriter, rec record.Record, category string) {
	if err := s.queue.Append(ctx, rec); err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	s.audit(ctx, rec.TraceID, category, "accepted", true, "")
	s.metrics.Received.WithLabelValues(category).Inc()
	s.metrics.QueueDepth.Set(float64(s.queue.Len()))
	s.log.Info("webhook queued",
		logx.String("trace_id", rec.TraceID),
		logx.String("category", category),
		logx.Int("pending", s.queue.Len()),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "queued",
		"trace_id": rec.TraceID,
	})
}

// handleMedia queues the raw body verbatim; classification and enrichment
// run later in the batch cycle so the sender gets an immediate response.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	traceID := record.NewTraceID()
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s.enqueue(r.Context(), w, record.Record{
		TraceID:    traceID,
		Kind:       record.KindRawMedia,
		Template:   s.opts.Templates[config.CategoryMedia],
		Headers:    flattenHeaders(r.Header),
		ReceivedAt: time.Now().UTC(),
		RawText:    body,
	}, config.CategoryMedia)
}

func (s *Server) handleGame(w http.ResponseWriter, r *http.Request) {
	traceID := record.NewTraceID()
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	var payload json.RawMessage
	if err := json.Unmarshal([]byte(body), &payload); err != nil || !strings.HasPrefix(strings.TrimSpace(body), "{") {
		s.metrics.Rejected.WithLabelValues("malformed").Inc()
		s.audit(r.Context(), traceID, config.CategoryGame, "rejected", false, "malformed payload")
		s.log.Warn("malformed game payload", logx.String("trace_id", traceID))
		writeError(w, http.StatusInternalServerError, "malformed payload")
		return
	}
	s.enqueue(r.Context(), w, record.Record{
		TraceID:    traceID,
		Kind:       record.KindRawGame,
		Template:   s.opts.Templates[config.CategoryGame],
		Headers:    flattenHeaders(r.Header),
		ReceivedAt: time.Now().UTC(),
		Payload:    payload,
	}, config.CategoryGame)
}

// handleCommon normalizes synchronously: the collaborator's output shape is
// final, and a bad body must fail with a client error instead of queueing.
func (s *Server) handleCommon(w http.ResponseWriter, r *http.Request) {
	traceID := record.NewTraceID()
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	msg, err := s.normalizer.Normalize(body)
	if err != nil {
		s.metrics.Rejected.WithLabelValues("invalid").Inc()
		s.audit(r.Context(), traceID, config.CategoryCommon, "rejected", false, err.Error())
		s.log.Warn("common payload rejected", logx.String("trace_id", traceID), logx.Err(err))
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	msg.TraceID = traceID
	msg.Template = s.opts.Templates[config.CategoryCommon]
	s.enqueue(r.Context(), w, record.Record{
		TraceID:    traceID,
		Kind:       record.KindCommon,
		Template:   msg.Template,
		ReceivedAt: msg.ReceivedAt,
		Message:    &msg,
	}, config.CategoryCommon)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	group := s.opts.Group()
	if group == "" {
		group = "not_configured"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server_running": s.running.Load(),
		"listen_port":    s.opts.Port,
		"queue_messages": s.queue.Len(),
		"target_group":   group,
	})
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
