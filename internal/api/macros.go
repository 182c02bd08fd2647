package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sinapsi/sinapsi-core/internal/audit"
	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// defaultExecutionLimit bounds GET /macros/{id}/executions without ?limit.
const defaultExecutionLimit = 50

// macroResponse is a stored definition plus whether the local engine
// loaded it.
type macroResponse struct {
	engine.MacroSpec
	Loaded bool `json:"loaded"`
}

func (s *Server) macroResponse(spec engine.MacroSpec) macroResponse {
	_, err := s.engine.Macro(spec.ID)
	return macroResponse{MacroSpec: spec, Loaded: err == nil}
}

// handleListMacros returns every stored definition ordered by ID.
func (s *Server) handleListMacros(w http.ResponseWriter, _ *http.Request) {
	specs := s.catalog.Specs()
	out := make([]macroResponse, 0, len(specs))
	for _, spec := range specs {
		out = append(out, s.macroResponse(spec))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"macros": out,
		"count":  len(out),
	})
}

func (s *Server) handleGetMacro(w http.ResponseWriter, r *http.Request) {
	id, ok := macroIDParam(w, r)
	if !ok {
		return
	}
	spec, err := s.catalog.Spec(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.macroResponse(spec))
}

// handlePutMacro creates or replaces a definition. The path ID wins over
// any id in the body. Peer devices bound by the macro are told to resync.
func (s *Server) handlePutMacro(w http.ResponseWriter, r *http.Request) {
	id, ok := macroIDParam(w, r)
	if !ok {
		return
	}
	var spec engine.MacroSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeBadRequest(w, "invalid JSON: "+err.Error())
		return
	}
	spec.ID = id

	if err := s.catalog.AddOrUpdateMacro(r.Context(), spec); err != nil {
		writeDomainError(w, err)
		return
	}
	s.notifyPeers(r.Context(), spec)
	s.audit(r, audit.ActionMacroSaved, id, map[string]any{"name": spec.Name, "actions": len(spec.Actions)})

	stored, err := s.catalog.Spec(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.macroResponse(stored))
}

func (s *Server) handleDeleteMacro(w http.ResponseWriter, r *http.Request) {
	id, ok := macroIDParam(w, r)
	if !ok {
		return
	}
	spec, err := s.catalog.Spec(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.catalog.RemoveMacro(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	s.notifyPeers(r.Context(), spec)
	s.audit(r, audit.ActionMacroDeleted, id, map[string]any{"name": spec.Name})
	w.WriteHeader(http.StatusNoContent)
}

type enabledRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleSetMacroEnabled(w http.ResponseWriter, r *http.Request) {
	id, ok := macroIDParam(w, r)
	if !ok {
		return
	}
	var req enabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeBadRequest(w, `body must be {"enabled": true|false}`)
		return
	}
	if err := s.catalog.SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		writeDomainError(w, err)
		return
	}
	spec, err := s.catalog.Spec(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.notifyPeers(r.Context(), spec)
	action := audit.ActionMacroDisabled
	if spec.Enabled {
		action = audit.ActionMacroEnabled
	}
	s.audit(r, action, id, nil)
	writeJSON(w, http.StatusOK, s.macroResponse(spec))
}

// handleSyncMacros reloads the catalog from the database.
func (s *Server) handleSyncMacros(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Sync(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	count := len(s.catalog.Specs())
	s.audit(r, audit.ActionCatalogSynced, 0, map[string]any{"count": count})
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (s *Server) handleListMacroExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := macroIDParam(w, r)
	if !ok {
		return
	}
	if s.executions == nil {
		writeNotFound(w, "execution history is not enabled")
		return
	}
	limit := defaultExecutionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	execs, err := s.executions.ListExecutions(r.Context(), id, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executions": execs,
		"count":      len(execs),
	})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.executions == nil {
		writeNotFound(w, "execution history is not enabled")
		return
	}
	exec, err := s.executions.GetExecution(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleListTriggers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"triggers": s.engine.ComponentFactory().Descriptors(engine.KindTrigger),
	})
}

func (s *Server) handleListActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"actions": s.engine.ComponentFactory().Descriptors(engine.KindAction),
	})
}

// handleDevice describes the local device and what it advertises.
func (s *Server) handleDevice(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"device":       s.engine.Device(),
		"availability": s.engine.ComponentFactory().Availability(),
		"capabilities": s.engine.Facade().Capabilities(),
	})
}

// notifyPeers tells every other device a macro references to resync.
// Failures are logged; the local change already stands.
func (s *Server) notifyPeers(ctx context.Context, spec engine.MacroSpec) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyModelUpdated(ctx, specDevices(spec)); err != nil {
		s.logger.Warn("notifying peers of macro change failed", "macro_id", spec.ID, "error", err)
	}
}

// specDevices returns the distinct device IDs a definition binds, sorted.
func specDevices(spec engine.MacroSpec) []int {
	seen := map[int]struct{}{spec.Trigger.DeviceID: {}}
	for _, a := range spec.Actions {
		seen[a.DeviceID] = struct{}{}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func macroIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		writeBadRequest(w, "macro id must be a positive integer")
		return 0, false
	}
	return id, true
}
