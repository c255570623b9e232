/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/fleetplan/internal/compiler"
	"github.com/friendsincode/fleetplan/internal/ledger"
	"github.com/friendsincode/fleetplan/internal/models"
	"github.com/friendsincode/fleetplan/internal/planfile"
	"github.com/friendsincode/fleetplan/internal/task"
	"github.com/friendsincode/fleetplan/internal/telemetry"
)

const maxPlanBytes = 4 << 20

func (s *Server) configureRoutes(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/plans", func(r chi.Router) {
			r.Post("/compile", s.handleCompile)
			r.Get("/current", s.handleCurrentPlan)
			r.Delete("/current", s.handleCancelPlan)
			r.Get("/history", s.handleHistory)
		})
		r.Get("/schedule", s.handleSchedule)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"robot":  s.cfg.RobotName,
		"leader": s.isLeader(),
		"ledger": s.ledger != nil,
	}
	if s.deps.DB != nil {
		if sqlDB, err := s.deps.DB.DB(); err != nil || sqlDB.PingContext(r.Context()) != nil {
			resp["status"] = "degraded"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) isLeader() bool {
	return s.deps.Election == nil || s.deps.Election.IsLeader()
}

// stateView is the JSON form of an event state and its children.
type stateView struct {
	ID       uint64       `json:"id"`
	Name     string       `json:"name"`
	Detail   string       `json:"detail,omitempty"`
	Status   task.Status  `json:"status"`
	Log      []task.Entry `json:"log,omitempty"`
	Children []stateView  `json:"children,omitempty"`
}

func viewState(st *task.State) stateView {
	v := stateView{
		ID:     st.ID(),
		Name:   st.Name(),
		Detail: st.Detail(),
		Status: st.Status(),
		Log:    st.Log().Entries(),
	}
	for _, child := range st.Dependencies() {
		v.Children = append(v.Children, viewState(child))
	}
	return v
}

type planView struct {
	PlanID         models.PlanID `json:"plan_id"`
	FinishTime     time.Time     `json:"finish_time"`
	CommitAttempts int           `json:"commit_attempts"`
	Labels         []string      `json:"labels"`
	State          stateView     `json:"state"`
}

func viewPlan(p *compiler.CompiledPlan) planView {
	return planView{
		PlanID:         p.PlanID,
		FinishTime:     p.FinishTime,
		CommitAttempts: p.CommitAttempts,
		Labels:         p.Labels(),
		State:          viewState(p.Sequence.State()),
	}
}

type compileResponse struct {
	Record *models.CompilationRecord `json:"record"`
	Plan   *planView                 `json:"plan,omitempty"`
	State  stateView                 `json:"state"`
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	if !s.isLeader() {
		writeError(w, http.StatusServiceUnavailable, "not_leader")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPlanBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "plan_too_large")
		return
	}
	file, err := planfile.Parse(data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if file.Robot != "" && file.Robot != s.cfg.RobotName {
		writeError(w, http.StatusBadRequest, "plan_for_other_robot")
		return
	}

	plan, err := file.Plan(file.StartTime(time.Now()))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	tail, err := file.TailPeriod()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	recommended := models.PlanID(file.RecommendedPlanID)
	if recommended == 0 {
		recommended, err = s.deps.Participant.AssignPlanID(r.Context())
		if err != nil {
			s.logger.Error().Err(err).Msg("assign plan id failed")
			writeError(w, http.StatusInternalServerError, "plan_id_unavailable")
			return
		}
	}

	res, err := s.planning.Compile(r.Context(), compiler.Request{
		RecommendedPlanID: recommended,
		Plan:              plan,
		FullItinerary:     plan.Itinerary,
		TailPeriod:        tail,
	})

	resp := compileResponse{Record: res.Record, State: viewState(res.State)}
	if res.Compiled != nil {
		pv := viewPlan(res.Compiled)
		resp.Plan = &pv
	}

	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, compiler.ErrCommitRejected):
		status = http.StatusConflict
	case errors.Is(err, compiler.ErrNoFinishTime):
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCurrentPlan(w http.ResponseWriter, r *http.Request) {
	current := s.planning.Current()
	if current == nil {
		writeError(w, http.StatusNotFound, "no_plan")
		return
	}
	writeJSON(w, http.StatusOK, viewPlan(current))
}

func (s *Server) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	if s.planning.Current() == nil {
		writeError(w, http.StatusNotFound, "no_plan")
		return
	}
	s.planning.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger_disabled")
		return
	}

	q := r.URL.Query()
	filters := ledger.QueryFilters{
		Participant: q.Get("participant"),
		Outcome:     models.CompilationOutcome(q.Get("outcome")),
	}
	if filters.Participant == "" {
		filters.Participant = s.cfg.RobotName
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		filters.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_offset")
			return
		}
		filters.Offset = n
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		filters.Since = &since
	}

	records, total, err := s.ledger.Query(r.Context(), filters)
	if err != nil {
		s.logger.Error().Err(err).Msg("query compilation history failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
	})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	planID, err := s.deps.Participant.CurrentPlanID(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "schedule_unavailable")
		return
	}
	itinerary, err := s.deps.Participant.Itinerary(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "schedule_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"participant": s.cfg.RobotName,
		"plan_id":     planID,
		"itinerary":   itinerary,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
