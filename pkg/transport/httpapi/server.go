// Copyright 2026 © The Deskpilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the orchestrator over HTTP+JSON with a
// server-sent events stream per thread.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/deskpilot/pkg/conversation"
	"github.com/jllopis/deskpilot/pkg/core"
	"github.com/jllopis/deskpilot/pkg/errors"
	"github.com/jllopis/deskpilot/pkg/orchestrator"
)

const (
	maxBodyBytes = 64 << 10

	// DefaultKeepAlive is the interval between SSE comment frames.
	DefaultKeepAlive = 15 * time.Second
)

// Server routes HTTP requests to an orchestrator.Service.
type Server struct {
	service   *orchestrator.Service
	broker    *core.Broker
	health    *core.Health
	keepAlive time.Duration
	log       *slog.Logger
	tracer    trace.Tracer
	mux       *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithBroker enables the events endpoint. The broker must also be the
// service's notifier for events to flow.
func WithBroker(b *core.Broker) Option {
	return func(s *Server) { s.broker = b }
}

// WithHealth serves h on /healthz.
func WithHealth(h *core.Health) Option {
	return func(s *Server) { s.health = h }
}

// WithKeepAlive sets the SSE keep-alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New builds a Server.
func New(service *orchestrator.Service, opts ...Option) *Server {
	s := &Server{
		service:   service,
		keepAlive: DefaultKeepAlive,
		log:       slog.Default(),
		tracer:    otel.Tracer("deskpilot/httpapi"),
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("POST /v1/workspaces/{workspace}/threads/{thread}/messages", s.handlePostMessage)
	s.mux.HandleFunc("GET /v1/workspaces/{workspace}/threads/{thread}", s.handleGetThread)
	s.mux.HandleFunc("GET /v1/workspaces/{workspace}/threads/{thread}/events", s.handleEvents)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "http."+r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		),
	)
	defer span.End()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.mux.ServeHTTP(rec, r.WithContext(ctx))

	span.SetAttributes(attribute.Int("http.status_code", rec.status))
	if rec.status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(rec.status))
	}
	s.log.DebugContext(ctx, "http.request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Duration("duration", time.Since(start)),
	)
}

// ListenAndServe serves on addr until ctx is done, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("http.listen", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// MessageRequest is the body of a posted customer message.
type MessageRequest struct {
	Text string `json:"text"`
}

// TurnResponse is returned by a synchronous post.
type TurnResponse struct {
	TurnID      string                 `json:"turnId"`
	Inbound     *core.MessagePayload   `json:"inbound"`
	Replies     []*core.MessagePayload `json:"replies"`
	AgentIDs    []string               `json:"agentIds"`
	AgentTitles []string               `json:"agentTitles"`
}

// AcceptedResponse is returned by an asynchronous post.
type AcceptedResponse struct {
	Message *core.MessagePayload `json:"message"`
}

// ThreadResponse is the checkpointed state of a thread.
type ThreadResponse struct {
	ThreadID string              `json:"threadId"`
	State    *conversation.State `json:"state"`
}

// HealthResponse is the body of /healthz.
type HealthResponse struct {
	Status     core.HealthStatus   `json:"status"`
	Components []core.HealthResult `json:"components"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	workspaceID, threadID := r.PathValue("workspace"), r.PathValue("thread")
	var req MessageRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.New(errors.CodeInvalidInput, "invalid request body", err))
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		msg, err := s.service.Dispatch(r.Context(), workspaceID, threadID, req.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, AcceptedResponse{Message: orchestrator.Payload(msg)})
		return
	}

	report, err := s.service.HandleMessage(r.Context(), workspaceID, threadID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := TurnResponse{
		TurnID:      report.TurnID,
		Inbound:     orchestrator.Payload(report.Inbound),
		Replies:     make([]*core.MessagePayload, 0, len(report.Replies)),
		AgentIDs:    report.AgentIDs,
		AgentTitles: report.AgentTitles,
	}
	for _, m := range report.Replies {
		resp.Replies = append(resp.Replies, orchestrator.Payload(m))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("thread")
	st, err := s.service.State(r.Context(), r.PathValue("workspace"), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ThreadResponse{ThreadID: threadID, State: st})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.broker == nil {
		writeProblem(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "event stream not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New(errors.CodeInternal, "streaming not supported", nil))
		return
	}
	workspaceID := r.PathValue("workspace")
	threadID := r.PathValue("thread")
	events, cancel := s.broker.Subscribe(threadID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.WorkspaceID != workspaceID {
				continue
			}
			if err := writeEvent(w, ev); err != nil {
				s.log.DebugContext(ctx, "http.events.write_error",
					slog.String("thread_id", threadID),
					slog.String("error", err.Error()),
				)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev core.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: core.HealthHealthy, Components: []core.HealthResult{}})
		return
	}
	results, status := s.health.CheckAll(r.Context())
	code := http.StatusOK
	if status == core.HealthUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{Status: status, Components: results})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	de := errors.As(err)
	detail := de.Message
	if de.Err != nil && de.Code == errors.CodeInvalidInput {
		detail = strings.TrimSpace(detail + ": " + de.Err.Error())
	}
	writeProblem(w, errors.StatusCode(de.Code), string(de.Code), detail)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	body := map[string]any{
		"type":   "about:blank",
		"title":  title,
		"status": status,
		"detail": detail,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets the events handler stream through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
