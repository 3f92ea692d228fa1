// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api exposes the rename-job lifecycle over HTTP: start, poll,
// submit a login code, cancel, resume.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/mvbrr/internal/domain"
	"github.com/autobrr/mvbrr/internal/jobs"
	"github.com/autobrr/mvbrr/internal/matching"
	"github.com/autobrr/mvbrr/internal/metrics"
	"github.com/autobrr/mvbrr/internal/telegram"
)

// Server wires the HTTP surface to the job registry and runner. Jobs started
// over HTTP run on jobCtx so a server shutdown cancels them.
type Server struct {
	cfg      *domain.Config
	registry *jobs.Registry
	runner   *jobs.Runner
	metrics  *metrics.Metrics

	jobCtx context.Context
}

func NewServer(jobCtx context.Context, cfg *domain.Config, registry *jobs.Registry, runner *jobs.Runner, m *metrics.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
		metrics:  m,
		jobCtx:   jobCtx,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.New(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/", s.handleStartJob)

			r.Route("/{jobID}", func(r chi.Router) {
				r.Get("/", s.handleGetJob)
				r.Post("/code", s.handleSubmitCode)
				r.Post("/cancel", s.handleCancelJob)
				r.Post("/resume", s.handleResumeJob)
			})
		})
	})

	if s.cfg.MetricsEnabled && s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	return r
}

// ListenAndServe blocks until ctx is cancelled, then drains with a short
// grace period.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type startJobRequest struct {
	APIID         string `json:"api_id"`
	APIHash       string `json:"api_hash"`
	Phone         string `json:"phone"`
	SessionString string `json:"session_string"`
	SrcChannel    string `json:"src_channel"`
	DstChannel    string `json:"dst_channel"`
	DeleteFromSrc bool   `json:"delete_from_src"`
	Mappings      []struct {
		Old string `json:"old"`
		New string `json:"new"`
	} `json:"mappings"`
}

type startJobResponse struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.SrcChannel == "" || req.DstChannel == "" {
		writeError(w, http.StatusBadRequest, "src_channel and dst_channel are required")
		return
	}

	pairs := make([]matching.Pair, 0, len(req.Mappings))
	for _, m := range req.Mappings {
		pairs = append(pairs, matching.Pair{OldName: m.Old, NewName: m.New})
	}
	mapping, err := matching.NewMapping(pairs)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid mapping: %v", err))
		return
	}

	job := jobs.NewJob(uuid.NewString(), jobs.Request{
		Credentials: telegram.Credentials{
			APIID:         req.APIID,
			APIHash:       req.APIHash,
			Phone:         req.Phone,
			SessionString: req.SessionString,
		},
		SourceChannel: req.SrcChannel,
		DestChannel:   req.DstChannel,
		DeleteSource:  req.DeleteFromSrc,
		Mapping:       mapping,
	})
	if err := s.registry.Add(job); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	go s.runner.Run(s.jobCtx, job)

	log.Info().Str("jobID", job.ID).Int("files", mapping.Len()).Msg("job started")
	writeJSON(w, http.StatusCreated, startJobResponse{JobID: job.ID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.registry.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.Status())
}

type jobListEntry struct {
	JobID    string     `json:"job_id"`
	Phase    jobs.Phase `json:"phase"`
	Progress int        `json:"progress"`
	Total    int        `json:"total"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	all := s.registry.List()
	out := make([]jobListEntry, 0, len(all))
	for _, job := range all {
		st := job.Status()
		out = append(out, jobListEntry{
			JobID:    st.ID,
			Phase:    st.Phase,
			Progress: st.Progress,
			Total:    st.Total,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type submitCodeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleSubmitCode(w http.ResponseWriter, r *http.Request) {
	job, ok := s.registry.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	var req submitCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	if err := job.SubmitCode(req.Code); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.registry.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	job.Cancel()
	log.Info().Str("jobID", job.ID).Msg("job cancel requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.registry.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	if err := job.PrepareResume(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	go s.runner.Run(s.jobCtx, job)

	log.Info().Str("jobID", job.ID).Msg("job resumed")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "resuming"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
