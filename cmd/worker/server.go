package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"contest-engine/internal/engine"
	"contest-engine/internal/milestone"
	"contest-engine/internal/observability"
	"contest-engine/internal/reconcile"
)

// server exposes the job intake and admin HTTP surface. The external
// scheduler POSTs jobs here and interprets a non-2xx response as "redeliver".
type server struct {
	engine    *engine.Engine
	milestone *milestone.Processor
	reconcile *reconcile.Processor
	logger    *log.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /jobs/milestone", s.handleMilestoneJob)
	mux.HandleFunc("POST /jobs/reconcile", s.handleReconcileJob)
	mux.HandleFunc("POST /actions", s.handleAction)

	mux.HandleFunc("POST /admin/milestones/{key}/retry", s.handleMilestoneRetry)
	mux.HandleFunc("POST /admin/contests/{id}/milestones", s.handleContestMode)
	mux.HandleFunc("POST /admin/reports/{id}/status", s.handleReportStatus)

	mux.HandleFunc("GET /status/contests/{id}", s.handleContestStatus)
	mux.HandleFunc("GET /status/ingestion", s.handleIngestionStatus)

	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return mux
}

func (s *server) handleMilestoneJob(w http.ResponseWriter, r *http.Request) {
	var job milestone.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		httpError(w, http.StatusBadRequest, "invalid job payload: "+err.Error())
		return
	}

	outcome, err := s.milestone.Process(r.Context(), job)
	if err != nil {
		if errors.Is(err, milestone.ErrPaused) {
			// 409 tells the scheduler to back off and redeliver later.
			httpError(w, http.StatusConflict, err.Error())
			return
		}
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

func (s *server) handleReconcileJob(w http.ResponseWriter, r *http.Request) {
	var job reconcile.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		httpError(w, http.StatusBadRequest, "invalid job payload: "+err.Error())
		return
	}

	outcome, err := s.reconcile.Process(r.Context(), job)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcome": outcome})
}

// handleAction applies one raw write action. Used by backfill tooling that
// bypasses the milestone state machine on purpose.
func (s *server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req engine.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid action request: "+err.Error())
		return
	}

	result, err := s.engine.Apply(r.Context(), req)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleMilestoneRetry(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.milestone.RetryMilestone(r.Context(), r.PathValue("key"), body.Actor); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "retrying"})
}

func (s *server) handleContestMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paused bool   `json:"paused"`
		Actor  string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.milestone.SetContestMode(r.Context(), r.PathValue("id"), body.Paused, body.Actor); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": body.Paused})
}

func (s *server) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
		Actor  string `json:"actor"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.reconcile.ApplyStatusChange(r.Context(), r.PathValue("id"), body.Status, body.Actor, body.Note); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": body.Status})
}

func (s *server) handleContestStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.engine.StatusByContest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleIngestionStatus(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(r.URL.Query().Get("chainId"), 10, 64)
	if err != nil {
		httpError(w, http.StatusBadRequest, "chainId query parameter must be an integer")
		return
	}
	address := r.URL.Query().Get("contractAddress")
	if address == "" {
		httpError(w, http.StatusBadRequest, "contractAddress query parameter is required")
		return
	}

	status, err := s.engine.StatusByAddress(r.Context(), chainID, address)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// respondError maps domain error codes onto HTTP statuses.
func (s *server) respondError(w http.ResponseWriter, err error) {
	code := engine.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case engine.CodeInputInvalid:
		status = http.StatusBadRequest
	case engine.CodeNotFound:
		status = http.StatusNotFound
	case engine.CodeOrderViolation, engine.CodeConflict:
		status = http.StatusConflict
	case engine.CodeResourceUnsupported:
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Printf("request failed: %v", err)
	}
	writeJSON(w, status, map[string]any{"code": code, "error": err.Error()})
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"code": engine.CodeInputInvalid, "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
