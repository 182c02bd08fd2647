package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sinapsi/sinapsi-core/internal/adapters"
	"github.com/sinapsi/sinapsi-core/internal/audit"
	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// eventRequest is the body of POST /events.
type eventRequest struct {
	Category string         `json:"category"`
	Params   map[string]any `json:"params"`
}

var knownCategories = map[engine.EventCategory]bool{
	engine.CategoryWifi:        true,
	engine.CategorySMS:         true,
	engine.CategoryScreenPower: true,
	engine.CategoryACPower:     true,
}

// handlePostEvent raises a local system event. Matching macros run before
// the response is written.
func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	category := engine.EventCategory(strings.ToUpper(strings.TrimSpace(req.Category)))
	if !knownCategories[category] {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, "unknown event category: "+req.Category)
		return
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	activated := s.engine.HandleEvent(r.Context(), engine.Event{Category: category, Params: req.Params})
	writeJSON(w, http.StatusOK, map[string]any{
		"category":  category,
		"activated": activated,
	})
}

// handlePostContinuation accepts one envelope, the HTTP alternative to the
// device inbox topic.
func (s *Server) handlePostContinuation(w http.ResponseWriter, r *http.Request) {
	if s.messages == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "continuations are not enabled")
		return
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading body: "+err.Error())
		return
	}
	if err := s.messages.HandleMessage(r.Context(), raw); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePauseEngine(w http.ResponseWriter, r *http.Request) {
	s.engine.PauseEngine()
	s.audit(r, audit.ActionEnginePaused, 0, nil)
	writeJSON(w, http.StatusOK, map[string]any{"engine_running": s.engine.Running()})
}

func (s *Server) handleResumeEngine(w http.ResponseWriter, r *http.Request) {
	s.engine.ResumeEngine()
	s.audit(r, audit.ActionEngineResumed, 0, nil)
	writeJSON(w, http.StatusOK, map[string]any{"engine_running": s.engine.Running()})
}

func (s *Server) handleListPrompts(w http.ResponseWriter, _ *http.Request) {
	if s.prompts == nil {
		writeJSON(w, http.StatusOK, map[string]any{"prompts": []adapters.PendingPrompt{}, "count": 0})
		return
	}
	pending := s.prompts.Pending()
	writeJSON(w, http.StatusOK, map[string]any{"prompts": pending, "count": len(pending)})
}

// handleAnswerPrompt applies an answer. A confirmed prompt resumes its run
// on this request, so the response is written once the run suspends again
// or ends.
func (s *Server) handleAnswerPrompt(w http.ResponseWriter, r *http.Request) {
	if s.prompts == nil {
		writeNotFound(w, "prompts are not enabled")
		return
	}
	var answer adapters.Answer
	if err := json.NewDecoder(r.Body).Decode(&answer); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	macroID := promptMacro(s.prompts, id)
	if err := s.prompts.Answer(id, answer); err != nil {
		if errors.Is(err, adapters.ErrPromptNotFound) {
			writeNotFound(w, err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}
	s.audit(r, audit.ActionPromptAnswered, macroID, answerDetails(id, answer))
	w.WriteHeader(http.StatusNoContent)
}
