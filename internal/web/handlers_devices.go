package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"dynaudio-go-home/internal/amp"
	"dynaudio-go-home/internal/frame"
	"dynaudio-go-home/internal/transport"
)

// DeviceView is the API representation of an amplifier.
type DeviceView struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	State      amp.State        `json:"state"`
	MediaTitle string           `json:"media_title"`
	Pending    bool             `json:"pending"`
	Greedy     bool             `json:"greedy_state"`
	MaxVolume  int              `json:"max_volume"`
	Sources    []string         `json:"sources"`
	Features   []string         `json:"features"`
	Health     transport.Health `json:"health"`
}

func newDeviceView(c *amp.Controller) DeviceView {
	return DeviceView{
		ID:         c.ID(),
		Name:       c.Name(),
		State:      c.State(),
		MediaTitle: c.MediaTitle(),
		Pending:    c.Pending(),
		Greedy:     c.Greedy(),
		MaxVolume:  c.MaxVolume(),
		Sources:    c.Sources(),
		Features:   amp.Features,
		Health:     c.Health(),
	}
}

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	controllers := s.devices.List()
	views := make([]DeviceView, 0, len(controllers))
	for _, c := range controllers {
		views = append(views, newDeviceView(c))
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, newDeviceView(c))
}

func (s *Server) handleAPIListSources(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, amp.DefaultCatalog().Entries())
}

type powerRequest struct {
	On   *bool `json:"on"`
	Zone int   `json:"zone"`
}

func (s *Server) handleAPIPower(w http.ResponseWriter, r *http.Request) {
	var req powerRequest
	c, ok := s.lookupAndDecode(w, r, &req)
	if !ok {
		return
	}
	if req.On == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "on is required"})
		return
	}
	s.runCommand(w, r, c, func(ctx context.Context) error {
		if *req.On {
			return c.TurnOn(ctx, req.Zone)
		}
		return c.TurnOff(ctx, req.Zone)
	})
}

type volumeRequest struct {
	Level *float64 `json:"level"`
	Zone  int      `json:"zone"`
}

func (s *Server) handleAPIVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	c, ok := s.lookupAndDecode(w, r, &req)
	if !ok {
		return
	}
	if req.Level == nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "level is required"})
		return
	}
	s.runCommand(w, r, c, func(ctx context.Context) error {
		return c.SetVolume(ctx, req.Zone, *req.Level)
	})
}

// muteRequest toggles when Muted is absent.
type muteRequest struct {
	Muted *bool `json:"muted"`
	Zone  int   `json:"zone"`
}

func (s *Server) handleAPIMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	c, ok := s.lookupAndDecode(w, r, &req)
	if !ok {
		return
	}
	s.runCommand(w, r, c, func(ctx context.Context) error {
		if req.Muted == nil {
			return c.ToggleMute(ctx, req.Zone)
		}
		return c.SetMute(ctx, req.Zone, *req.Muted)
	})
}

type sourceRequest struct {
	Source string `json:"source"`
	Zone   int    `json:"zone"`
}

func (s *Server) handleAPISource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	c, ok := s.lookupAndDecode(w, r, &req)
	if !ok {
		return
	}
	s.runCommand(w, r, c, func(ctx context.Context) error {
		return c.SelectSource(ctx, req.Zone, req.Source)
	})
}

type zoneRequest struct {
	Zone int `json:"zone"`
}

func (s *Server) handleAPIZone(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	c, ok := s.lookupAndDecode(w, r, &req)
	if !ok {
		return
	}
	s.runCommand(w, r, c, func(context.Context) error {
		return c.SelectZone(req.Zone)
	})
}

func (s *Server) handleAPIPoll(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.runCommand(w, r, c, c.Poll)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*amp.Controller, bool) {
	c, err := s.devices.Get(r.PathValue("id"))
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return nil, false
	}
	return c, true
}

func (s *Server) lookupAndDecode(w http.ResponseWriter, r *http.Request, req interface{}) (*amp.Controller, bool) {
	c, ok := s.lookup(w, r)
	if !ok {
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return nil, false
	}
	return c, true
}

// commandError is returned when an amplifier command fails. Device carries
// the state after the attempt, which may include optimistic changes.
type commandError struct {
	Error  string     `json:"error"`
	Device DeviceView `json:"device"`
}

func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, c *amp.Controller, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Warn("device command failed", "device", c.ID(), "path", r.URL.Path, "err", err)
		}
		s.writeJSON(w, status, commandError{Error: err.Error(), Device: newDeviceView(c)})
		return
	}
	s.writeJSON(w, http.StatusOK, newDeviceView(c))
}

// statusFor maps controller errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, amp.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, amp.ErrInvalidSource),
		errors.Is(err, amp.ErrInvalidVolume),
		errors.Is(err, amp.ErrInvalidZone):
		return http.StatusBadRequest
	case errors.Is(err, transport.ErrRefused),
		errors.Is(err, transport.ErrTransport),
		errors.Is(err, frame.ErrDecode),
		errors.Is(err, amp.ErrUnknownSourceCode):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
