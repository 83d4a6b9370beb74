package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/plcwatch-core/internal/audit"
	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/plc"
)

// controllerRequest is the body for POST and PUT /controllers.
// PUT replaces the stored configuration; omitted fields take their defaults.
type controllerRequest struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	UnitID      *int   `json:"unit_id"`
	Description string `json:"description"`
	Simulated   bool   `json:"simulated"`
}

func (req controllerRequest) apply(c *plc.Controller) {
	c.Name = req.Name
	c.Host = req.Host
	c.Port = req.Port
	if c.Port == 0 {
		c.Port = plc.DefaultPort
	}
	c.UnitID = plc.DefaultUnitID
	if req.UnitID != nil {
		c.UnitID = *req.UnitID
	}
	c.Description = req.Description
	c.Simulated = req.Simulated
}

// controllerStatus is the response for GET /controllers/{id}/status.
type controllerStatus struct {
	ControllerID string                 `json:"controller_id"`
	Name         string                 `json:"name"`
	Monitoring   bool                   `json:"monitoring"`
	Live         bool                   `json:"live"`
	Connected    bool                   `json:"connected"`
	State        modbus.ConnectionState `json:"state"`
	Simulated    bool                   `json:"simulated"`
	LastSeen     *time.Time             `json:"last_seen,omitempty"`
}

// ─── CRUD ──────────────────────────────────────────────────────────

// handleListControllers returns all configured controllers.
func (s *Server) handleListControllers(w http.ResponseWriter, r *http.Request) {
	controllers, err := s.catalogue.ListControllers(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "failed to list controllers")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"controllers": controllers,
		"count":       len(controllers),
	})
}

// handleCreateController stores a new controller.
func (s *Server) handleCreateController(w http.ResponseWriter, r *http.Request) {
	var req controllerRequest
	if !readJSON(w, r, &req) {
		return
	}

	c := &plc.Controller{}
	req.apply(c)
	if err := s.catalogue.CreateController(r.Context(), c); err != nil {
		s.writeDomainError(w, err, "failed to create controller")
		return
	}

	s.record(r, audit.ActionCreate, audit.EntityController, c.ID, map[string]any{"name": c.Name})
	writeJSON(w, http.StatusCreated, c)
}

// handleGetController returns one controller.
func (s *Server) handleGetController(w http.ResponseWriter, r *http.Request) {
	c, err := s.catalogue.GetController(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err, "failed to get controller")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleUpdateController replaces a controller's configuration. A live
// link is rebuilt with the new settings.
func (s *Server) handleUpdateController(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req controllerRequest
	if !readJSON(w, r, &req) {
		return
	}

	c, err := s.catalogue.GetController(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "failed to update controller")
		return
	}

	req.apply(c)
	if err := s.catalogue.UpdateController(r.Context(), c); err != nil {
		s.writeDomainError(w, err, "failed to update controller")
		return
	}

	s.record(r, audit.ActionUpdate, audit.EntityController, c.ID, nil)
	writeJSON(w, http.StatusOK, c)
}

// handleDeleteController removes a controller, its registers and any live link.
func (s *Server) handleDeleteController(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.catalogue.DeleteController(r.Context(), id); err != nil {
		s.writeDomainError(w, err, "failed to delete controller")
		return
	}
	s.record(r, audit.ActionDelete, audit.EntityController, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// ─── Engine ────────────────────────────────────────────────────────

// handleTestConnection dials the controller's stored settings without
// registering a link. Failure to connect is a result, not an error.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cfg, err := s.catalogue.ControllerConnection(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "failed to load controller")
		return
	}

	start := time.Now()
	err = s.registry.TestConnection(r.Context(), cfg)
	resp := map[string]any{
		"controller_id": id,
		"success":       err == nil,
		"simulated":     cfg.Simulated,
		"duration_ms":   time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleControllerStatus combines stored connectivity with the engine's
// live link state.
func (s *Server) handleControllerStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.catalogue.GetController(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err, "failed to get controller status")
		return
	}

	status := controllerStatus{
		ControllerID: c.ID,
		Name:         c.Name,
		Monitoring:   s.monitor.IsMonitoring(id),
		Connected:    c.IsConnected,
		State:        modbus.StateDisconnected,
		Simulated:    c.Simulated,
		LastSeen:     c.LastSeen,
	}

	link, err := s.registry.Status(id)
	switch {
	case err == nil:
		status.Live = true
		status.Connected = link.Connected
		status.State = link.State
		status.Simulated = link.Simulated
	case !errors.Is(err, modbus.ErrNotFound):
		s.writeDomainError(w, err, "failed to get controller status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// handleStartMonitoring starts the controller's poll loop.
func (s *Server) handleStartMonitoring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.catalogue.GetController(r.Context(), id); err != nil {
		s.writeDomainError(w, err, "failed to start monitoring")
		return
	}
	if err := s.monitor.Start(r.Context(), id); err != nil {
		s.writeDomainError(w, err, "failed to start monitoring")
		return
	}

	s.record(r, audit.ActionMonitorStart, audit.EntityController, id, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"controller_id": id,
		"monitoring":    true,
	})
}

// handleStopMonitoring stops the controller's poll loop. The link stays
// registered so value reads keep working.
func (s *Server) handleStopMonitoring(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.monitor.Stop(id); err != nil {
		s.writeDomainError(w, err, "failed to stop monitoring")
		return
	}

	s.record(r, audit.ActionMonitorStop, audit.EntityController, id, nil)
	writeJSON(w, http.StatusOK, map[string]any{
		"controller_id": id,
		"monitoring":    false,
	})
}
