package web

import (
	"errors"
	"net/http"

	"clawconsole/internal/config"
	"clawconsole/internal/domain"
	"clawconsole/internal/shell"
)

// handleGetConfig returns the current config (with secrets masked).
func (s *Server) handleGetConfig(rw http.ResponseWriter, r *http.Request) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()

	if s.cfg == nil {
		writeError(rw, http.StatusServiceUnavailable, "config not loaded")
		return
	}
	sanitized := config.Sanitize(s.cfg)
	if s.engine != nil {
		sanitized.Shell.ShellConfig = s.engine.Config()
	}
	writeJSON(rw, http.StatusOK, sanitized)
}

// handleSaveConfig persists the current in-memory config, including the live
// shell policy, to disk.
func (s *Server) handleSaveConfig(rw http.ResponseWriter, r *http.Request) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	if s.cfg == nil || s.cfgPath == "" {
		writeError(rw, http.StatusServiceUnavailable, "config not available")
		return
	}
	if s.engine != nil {
		s.cfg.Shell.ShellConfig = s.engine.Config()
	}
	if err := config.Save(s.cfgPath, s.cfg); err != nil {
		writeError(rw, http.StatusInternalServerError, "save failed: "+err.Error())
		return
	}

	s.logger.Info("config saved to disk", "path", s.cfgPath)
	writeJSON(rw, http.StatusOK, map[string]string{"status": "saved", "path": s.cfgPath})
}

func (s *Server) handleGetShellConfig(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, s.engine.Config())
}

// handleUpdateShellConfig merges a partial shell policy into the live one.
// An invalid patch leaves the running policy untouched.
func (s *Server) handleUpdateShellConfig(rw http.ResponseWriter, r *http.Request) {
	var patch domain.ShellConfigPatch
	if err := decodeBody(rw, r, &patch); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if patch.AllowedDirectories != nil {
		dirs := make([]string, len(*patch.AllowedDirectories))
		for i, d := range *patch.AllowedDirectories {
			dirs[i] = config.ExpandPath(d)
		}
		patch.AllowedDirectories = &dirs
	}

	updated, err := s.engine.Configure(patch)
	if err != nil {
		if errors.Is(err, shell.ErrInvalidConfig) {
			writeError(rw, http.StatusBadRequest, err.Error())
			return
		}
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}

	s.cfgMu.Lock()
	if s.cfg != nil {
		s.cfg.Shell.ShellConfig = updated.Clone()
	}
	s.cfgMu.Unlock()

	s.logger.Info("shell policy updated via web", "remote", r.RemoteAddr)
	writeJSON(rw, http.StatusOK, updated)
}
