package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sinapsi/sinapsi-core/internal/adapters"
	"github.com/sinapsi/sinapsi-core/internal/audit"
	"github.com/sinapsi/sinapsi-core/internal/infrastructure/logging"
)

// recordAudit appends e to the trail. A nil repository disables auditing;
// write failures are logged and never reach the client.
func recordAudit(ctx context.Context, repo audit.Repository, log *logging.Logger, e audit.Entry) {
	if repo == nil {
		return
	}
	if err := repo.Record(ctx, &e); err != nil {
		log.Warn("recording audit entry failed", "action", e.Action, "macro_id", e.MacroID, "error", err)
	}
}

func (s *Server) audit(r *http.Request, action string, macroID int, details map[string]any) {
	recordAudit(r.Context(), s.auditLog, s.logger, audit.Entry{
		Action:  action,
		MacroID: macroID,
		Source:  audit.SourceAPI,
		Details: details,
	})
}

// promptMacro returns the macro that raised prompt id, or 0.
func promptMacro(prompts *adapters.PromptBroker, id string) int {
	for _, p := range prompts.Pending() {
		if p.ID == id {
			return p.MacroID
		}
	}
	return 0
}

func answerDetails(id string, a adapters.Answer) map[string]any {
	d := map[string]any{"prompt_id": id}
	switch {
	case a.Cancel:
		d["cancelled"] = true
	case a.Confirmed != nil:
		d["confirmed"] = *a.Confirmed
	case a.Value != nil:
		d["answered"] = true
	}
	return d
}

// handleListAudit lists the trail, newest first. Query: action, macro_id,
// limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeNotFound(w, "audit trail is not enabled")
		return
	}

	q := r.URL.Query()
	f := audit.Filter{Action: q.Get("action")}
	for name, dst := range map[string]*int{"macro_id": &f.MacroID, "limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, name+" must be a non-negative integer")
			return
		}
		*dst = n
	}

	page, err := s.auditLog.List(r.Context(), f)
	if err != nil {
		writeInternalError(w, "listing audit trail: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}
