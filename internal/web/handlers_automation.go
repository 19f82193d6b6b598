package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"dynaudio-go-home/internal/automation"
)

func (s *Server) handleAPIListAutomations(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	scripts, err := s.scriptMgr.List()
	if err != nil {
		s.logger.Error("list scripts", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if scripts == nil {
		scripts = []*automation.Script{}
	}
	s.writeJSON(w, http.StatusOK, scripts)
}

func (s *Server) handleAPIGetAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	script, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, script)
}

type saveAutomationRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Devices     []string `json:"devices"`
	LuaCode     string   `json:"lua_code"`
	Enabled     bool     `json:"enabled"`
}

func (req saveAutomationRequest) applyTo(script *automation.Script) {
	script.Meta.Name = req.Name
	script.Meta.Description = req.Description
	script.Meta.Devices = req.Devices
	script.Meta.Enabled = req.Enabled
	script.LuaCode = req.LuaCode
}

func (s *Server) decodeAutomation(w http.ResponseWriter, r *http.Request) (saveAutomationRequest, bool) {
	var req saveAutomationRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return req, false
	}
	if req.Name == "" {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return req, false
	}
	return req, true
}

func (s *Server) handleAPICreateAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "automations not available"})
		return
	}
	req, ok := s.decodeAutomation(w, r)
	if !ok {
		return
	}

	script := &automation.Script{}
	req.applyTo(script)
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.writeSaveError(w, "create script", err)
		return
	}

	if s.autoEngine != nil && saved.Meta.Enabled {
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script after create", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleAPIUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "automations not available"})
		return
	}
	existing, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return
	}
	req, ok := s.decodeAutomation(w, r)
	if !ok {
		return
	}

	req.applyTo(existing)
	saved, err := s.scriptMgr.Save(existing)
	if err != nil {
		s.writeSaveError(w, "update script", err)
		return
	}

	if s.autoEngine != nil {
		if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
			s.logger.Error("reload script after update", "id", saved.ID, "err", err)
		}
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleAPIDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "automations not available"})
		return
	}

	id := r.PathValue("id")
	if s.autoEngine != nil {
		s.autoEngine.StopScript(id)
	}
	if err := s.scriptMgr.Delete(id); err != nil {
		if errors.Is(err, automation.ErrScriptNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
			return
		}
		s.logger.Error("delete script", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIRunAutomation(w http.ResponseWriter, r *http.Request) {
	if s.autoEngine == nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "automation engine not available"})
		return
	}

	id := r.PathValue("id")
	if id == "_inline" {
		var req struct {
			LuaCode string `json:"lua_code"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		s.writeJSON(w, http.StatusOK, s.autoEngine.RunLuaCode(req.LuaCode))
		return
	}
	s.writeJSON(w, http.StatusOK, s.autoEngine.RunScript(id))
}

func (s *Server) handleAPIToggleAutomation(w http.ResponseWriter, r *http.Request) {
	if s.scriptMgr == nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "automations not available"})
		return
	}

	script, err := s.scriptMgr.Get(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "script not found"})
		return
	}

	script.Meta.Enabled = !script.Meta.Enabled
	saved, err := s.scriptMgr.Save(script)
	if err != nil {
		s.logger.Error("toggle script", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if s.autoEngine != nil {
		if saved.Meta.Enabled {
			if err := s.autoEngine.ReloadScript(saved.ID); err != nil {
				s.logger.Error("reload script after toggle", "id", saved.ID, "err", err)
			}
		} else {
			s.autoEngine.StopScript(saved.ID)
		}
	}
	s.writeJSON(w, http.StatusOK, saved)
}

func (s *Server) writeSaveError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, automation.ErrInvalidScript) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Error(op, "err", err)
	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
