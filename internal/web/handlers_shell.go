package web

import (
	"errors"
	"fmt"
	"net/http"

	"clawconsole/internal/browser"
	"clawconsole/internal/domain"
)

func (s *Server) handleValidate(rw http.ResponseWriter, r *http.Request) {
	var req domain.CommandRequest
	if err := decodeBody(rw, r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, s.engine.ValidateCommand(req))
}

// handleExecute runs a command to completion. Policy rejections and failures
// are reported through the result's status, not the HTTP status. The command
// is killed if the client goes away.
func (s *Server) handleExecute(rw http.ResponseWriter, r *http.Request) {
	var req domain.CommandRequest
	if err := decodeBody(rw, r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, s.engine.Execute(r.Context(), req))
}

func (s *Server) handleListActive(rw http.ResponseWriter, r *http.Request) {
	active := s.engine.ListActive()
	if active == nil {
		active = []domain.CommandResult{}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"items": active, "total": len(active)})
}

func (s *Server) handleKill(rw http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.engine.KillCommand(id) {
		writeError(rw, http.StatusNotFound, fmt.Sprintf("command %s is not running", id))
		return
	}
	s.logger.Info("command kill requested", "id", id, "remote", r.RemoteAddr)
	writeJSON(rw, http.StatusOK, map[string]any{"id": id, "killed": true})
}

// handleHistory lists finished commands, newest first. ?source=db reads the
// persisted history instead of the in-memory ring.
func (s *Server) handleHistory(rw http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	if r.URL.Query().Get("source") != "db" {
		writeJSON(rw, http.StatusOK, s.engine.History(page, limit))
		return
	}
	if s.records == nil {
		writeError(rw, http.StatusServiceUnavailable, "audit persistence is disabled")
		return
	}
	p, err := s.records.ListHistory(r.Context(), page, limit)
	if err != nil {
		s.logger.Error("list persisted history", "err", err)
		writeError(rw, http.StatusInternalServerError, "list history failed")
		return
	}
	writeJSON(rw, http.StatusOK, p)
}

func (s *Server) handleClearHistory(rw http.ResponseWriter, r *http.Request) {
	s.engine.ClearHistory()
	s.logger.Info("command history cleared", "remote", r.RemoteAddr)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "cleared"})
}

// handleAudit lists audit entries, newest first. ?source=db reads the
// persisted log and honors ?outcome=.
func (s *Server) handleAudit(rw http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	q := r.URL.Query()
	if q.Get("source") != "db" {
		writeJSON(rw, http.StatusOK, s.engine.AuditLog(page, limit))
		return
	}
	if s.records == nil {
		writeError(rw, http.StatusServiceUnavailable, "audit persistence is disabled")
		return
	}

	outcome := domain.AuditOutcome(q.Get("outcome"))
	switch outcome {
	case "", domain.OutcomeAllowed, domain.OutcomeBlocked, domain.OutcomeFailed:
	default:
		writeError(rw, http.StatusBadRequest, fmt.Sprintf("unknown outcome %q", outcome))
		return
	}
	p, err := s.records.ListAudit(r.Context(), outcome, page, limit)
	if err != nil {
		s.logger.Error("list persisted audit", "err", err)
		writeError(rw, http.StatusInternalServerError, "list audit failed")
		return
	}
	writeJSON(rw, http.StatusOK, p)
}

func (s *Server) handleClearAudit(rw http.ResponseWriter, r *http.Request) {
	s.engine.ClearAuditLog()
	s.logger.Info("shell audit log cleared", "remote", r.RemoteAddr)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "cleared"})
}

type snapshotRequest struct {
	URL        string `json:"url"`
	Screenshot bool   `json:"screenshot,omitempty"`
}

func (s *Server) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if s.browser == nil {
		writeError(rw, http.StatusServiceUnavailable, "browser bridge is disabled")
		return
	}
	var req snapshotRequest
	if err := decodeBody(rw, r, &req); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := s.browser.Snapshot(r.Context(), req.URL, req.Screenshot)
	if err != nil {
		if errors.Is(err, browser.ErrInvalidURL) {
			writeError(rw, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Warn("page snapshot failed", "url", req.URL, "err", err)
		writeError(rw, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, snap)
}
