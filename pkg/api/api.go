// Copyright 2025 Stashbin Authors
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the upload service over HTTP. It is a thin layer:
// decode, admission check, dispatch, encode. All domain rules live in the
// upload service.
package api

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stashbin/stashbin/pkg/admission"
	"github.com/stashbin/stashbin/pkg/logger"
	"github.com/stashbin/stashbin/pkg/upload"
)

// DefaultMaxChunkBytes caps one chunk submission body.
const DefaultMaxChunkBytes = int64(64) << 20 // 64 MiB

// Config wires the HTTP server.
type Config struct {
	Addr string

	Service   upload.Service
	Admission admission.Controller

	// MaxChunkBytes caps the request body of a chunk submission.
	MaxChunkBytes int64

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server is the HTTP front of the upload service.
type Server struct {
	cfg  Config
	http *http.Server
}

// NewServer creates the HTTP server. Admission may be nil to admit all.
func NewServer(cfg Config) *Server {
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = DefaultMaxChunkBytes
	}
	if cfg.Admission == nil {
		cfg.Admission = admission.Noop{}
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &Server{cfg: cfg}
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/uploads", s.handleOpen)
	mux.HandleFunc("GET /api/v1/uploads", s.handleList)
	mux.HandleFunc("GET /api/v1/uploads/{id}", s.handleStatus)
	mux.HandleFunc("DELETE /api/v1/uploads/{id}", s.handleDelete)
	mux.HandleFunc("PUT /api/v1/uploads/{id}/chunks/{index}", s.handleSubmitChunk)
	mux.HandleFunc("POST /api/v1/uploads/{id}/complete", s.handleComplete)
	mux.HandleFunc("POST /api/v1/uploads/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/v1/uploads/{id}/download", s.handleDownload)

	return s.withLogging(s.withAdmission(mux))
}

// ListenAndServe blocks serving requests until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	logger.Info().Str("addr", s.cfg.Addr).Msg("api: listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) withAdmission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !s.cfg.Admission.Allow(r.Context(), key) {
			requestsThrottled.Inc()
			writeJSON(w, http.StatusTooManyRequests, errorBody("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", time.Since(start)).
			Msg("api: request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// clientKey identifies the caller for admission control: the first
// X-Forwarded-For hop when present, otherwise the connection address.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
