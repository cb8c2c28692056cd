package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ronappleton/lmnp-workflow/internal/workflow"
	"go.uber.org/zap"
)

type initializeRequest struct {
	WorkflowType string `json:"workflow_type" validate:"required,oneof=acquereur vendeur"`
}

type notesRequest struct {
	Notes string `json:"notes" validate:"max=4000"`
}

type automaticRequest struct {
	Status string `json:"status" validate:"required,oneof=completed skipped"`
	Notes  string `json:"notes" validate:"max=4000"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			writeJSONStatus(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	wt, ok := s.optionalWorkflowType(w, r)
	if !ok {
		return
	}
	steps, err := s.engine.ListSteps(r.Context(), wt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"items": steps})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var body initializeRequest
	if !s.decode(w, r, &body) {
		return
	}
	res, err := s.engine.InitializeWorkflow(r.Context(), r.PathValue("lot_id"), workflow.WorkflowType(body.WorkflowType))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleResetWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.ResetWorkflow(r.Context(), r.PathValue("lot_id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCurrentStep(w http.ResponseWriter, r *http.Request) {
	wt, ok := s.optionalWorkflowType(w, r)
	if !ok {
		return
	}
	lotID := r.PathValue("lot_id")
	var (
		cur *workflow.CurrentStep
		err error
	)
	if wt != nil {
		cur, err = s.engine.GetCurrentStep(r.Context(), lotID, *wt)
	} else {
		//nolint:staticcheck // kept for presenters that do not send a workflow type yet
		cur, err = s.engine.GetCurrentStepAllTypes(r.Context(), lotID)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"current": cur})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.GetSummary(r.Context(), r.PathValue("lot_id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, summary)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	wt, ok := s.requiredWorkflowType(w, r)
	if !ok {
		return
	}
	entries, err := s.engine.Timeline(r.Context(), r.PathValue("lot_id"), wt)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"items": entries})
}

func (s *Server) handleFollowUps(w http.ResponseWriter, r *http.Request) {
	wt, ok := s.requiredWorkflowType(w, r)
	if !ok {
		return
	}
	now := time.Now().UTC()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "at must be RFC3339")
			return
		}
		now = parsed
	}
	items, err := s.engine.FollowUps(r.Context(), r.PathValue("lot_id"), wt, now)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"items": items})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var body notesRequest
	if !s.decodeOptional(w, r, &body) {
		return
	}
	rec, err := s.engine.CompleteStep(r.Context(), r.PathValue("lot_id"), r.PathValue("code"), body.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	var body notesRequest
	if !s.decodeOptional(w, r, &body) {
		return
	}
	rec, err := s.engine.SkipStep(r.Context(), r.PathValue("lot_id"), r.PathValue("code"), body.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleResetStep(w http.ResponseWriter, r *http.Request) {
	rec, err := s.engine.ResetStep(r.Context(), r.PathValue("lot_id"), r.PathValue("code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Resend(r.Context(), r.PathValue("lot_id"), r.PathValue("code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"success": res.Sent(), "outcome": res.Outcome, "recipients": res.Recipients})
}

func (s *Server) handleAutomatic(w http.ResponseWriter, r *http.Request) {
	var body automaticRequest
	if !s.decode(w, r, &body) {
		return
	}
	rec, err := s.engine.ResolveAutomaticStep(r.Context(), r.PathValue("lot_id"), r.PathValue("code"), workflow.Status(body.Status), body.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, rec)
}

func (s *Server) optionalWorkflowType(w http.ResponseWriter, r *http.Request) (*workflow.WorkflowType, bool) {
	raw := r.URL.Query().Get("workflow_type")
	if raw == "" {
		return nil, true
	}
	wt, err := workflow.ParseWorkflowType(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &wt, true
}

func (s *Server) requiredWorkflowType(w http.ResponseWriter, r *http.Request) (workflow.WorkflowType, bool) {
	wt, ok := s.optionalWorkflowType(w, r)
	if !ok {
		return "", false
	}
	if wt == nil {
		writeJSONError(w, http.StatusBadRequest, "workflow_type is required")
		return "", false
	}
	return *wt, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad json")
		return false
	}
	return s.validateBody(w, v)
}

// decodeOptional accepts an empty body.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return s.validateBody(w, v)
	}
	return s.decode(w, r, v)
}

func (s *Server) validateBody(w http.ResponseWriter, v any) bool {
	if err := s.validate.Struct(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validation *workflow.ValidationError
		sendErr    *workflow.SendError
		dispatch   *workflow.DispatchError
	)
	switch {
	case errors.As(err, &dispatch):
		s.logger.Warn("step committed, email not sent", zap.Error(err))
		writeJSONStatus(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "record": dispatch.Record})
	case errors.As(err, &validation):
		writeJSONError(w, http.StatusBadRequest, validation.Message)
	case errors.Is(err, workflow.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, workflow.ErrStepBlocked), errors.Is(err, workflow.ErrAutomaticStep):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.As(err, &sendErr):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, map[string]string{"error": msg})
}
