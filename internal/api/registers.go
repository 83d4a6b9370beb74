package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/plcwatch-core/internal/audit"
	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/plc"
)

// registerRequest is the body for POST and PUT /controllers/{id}/registers.
// PUT replaces the stored definition; omitted optional fields are cleared.
type registerRequest struct {
	Name          string          `json:"name"`
	Address       *int            `json:"address"`
	DataType      modbus.DataType `json:"data_type"`
	ScalingFactor *float64        `json:"scaling_factor"`
	Unit          string          `json:"unit"`
	Description   string          `json:"description"`
	Monitored     *bool           `json:"monitored"`
	Min           *float64        `json:"min_value"`
	Max           *float64        `json:"max_value"`
}

// apply copies the request onto r. Monitored defaults to true and the
// scaling factor to plc.DefaultScalingFactor.
func (req registerRequest) apply(r *plc.Register) error {
	if req.Address == nil {
		return errors.New("address is required")
	}
	if req.DataType == "" {
		return errors.New("data_type is required")
	}

	r.Name = req.Name
	r.Address = *req.Address
	r.DataType = req.DataType
	r.ScalingFactor = plc.DefaultScalingFactor
	if req.ScalingFactor != nil {
		r.ScalingFactor = *req.ScalingFactor
	}
	r.Unit = req.Unit
	r.Description = req.Description
	r.Monitored = true
	if req.Monitored != nil {
		r.Monitored = *req.Monitored
	}
	r.Min = req.Min
	r.Max = req.Max
	return nil
}

// writeValueRequest is the body for PUT .../value.
type writeValueRequest struct {
	Value *float64 `json:"value"`
}

// registerValue is the response for value reads and writes.
type registerValue struct {
	ControllerID string    `json:"controller_id"`
	RegisterID   string    `json:"register_id"`
	Name         string    `json:"name"`
	Value        float64   `json:"value"`
	Unit         string    `json:"unit,omitempty"`
	Raw          []uint16  `json:"raw,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ─── CRUD ──────────────────────────────────────────────────────────

// handleListRegisters returns a controller's registers ordered by address.
func (s *Server) handleListRegisters(w http.ResponseWriter, r *http.Request) {
	regs, err := s.catalogue.ListRegisters(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err, "failed to list registers")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"registers": regs,
		"count":     len(regs),
	})
}

// handleCreateRegister defines a new register on a controller.
func (s *Server) handleCreateRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !readJSON(w, r, &req) {
		return
	}

	reg := &plc.Register{ControllerID: chi.URLParam(r, "id")}
	if err := req.apply(reg); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if err := s.catalogue.CreateRegister(r.Context(), reg); err != nil {
		s.writeDomainError(w, err, "failed to create register")
		return
	}

	s.record(r, audit.ActionCreate, audit.EntityRegister, reg.ID, map[string]any{"controller_id": reg.ControllerID})
	writeJSON(w, http.StatusCreated, reg)
}

// handleGetRegister returns one register definition.
func (s *Server) handleGetRegister(w http.ResponseWriter, r *http.Request) {
	reg, err := s.catalogue.GetRegister(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "registerID"))
	if err != nil {
		s.writeDomainError(w, err, "failed to get register")
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// handleUpdateRegister replaces a register definition. Poll loops pick
// up the change on their next cycle.
func (s *Server) handleUpdateRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !readJSON(w, r, &req) {
		return
	}

	reg, err := s.catalogue.GetRegister(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "registerID"))
	if err != nil {
		s.writeDomainError(w, err, "failed to update register")
		return
	}
	if err := req.apply(reg); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	if err := s.catalogue.UpdateRegister(r.Context(), reg); err != nil {
		s.writeDomainError(w, err, "failed to update register")
		return
	}

	s.record(r, audit.ActionUpdate, audit.EntityRegister, reg.ID, map[string]any{"controller_id": reg.ControllerID})
	writeJSON(w, http.StatusOK, reg)
}

// handleDeleteRegister removes a register definition.
func (s *Server) handleDeleteRegister(w http.ResponseWriter, r *http.Request) {
	controllerID, registerID := chi.URLParam(r, "id"), chi.URLParam(r, "registerID")
	if err := s.catalogue.DeleteRegister(r.Context(), controllerID, registerID); err != nil {
		s.writeDomainError(w, err, "failed to delete register")
		return
	}
	s.record(r, audit.ActionDelete, audit.EntityRegister, registerID, map[string]any{"controller_id": controllerID})
	w.WriteHeader(http.StatusNoContent)
}

// ─── Live values ───────────────────────────────────────────────────

// handleReadValue reads a register from the device and returns its
// scaled engineering value.
func (s *Server) handleReadValue(w http.ResponseWriter, r *http.Request) {
	controllerID := chi.URLParam(r, "id")

	def, err := s.catalogue.Register(r.Context(), controllerID, chi.URLParam(r, "registerID"))
	if err != nil {
		s.writeDomainError(w, err, "failed to read register")
		return
	}
	if err := s.ensureLive(r.Context(), controllerID); err != nil {
		s.writeDomainError(w, err, "failed to read register")
		return
	}

	value, err := s.registry.ReadValue(r.Context(), controllerID, def)
	if err != nil {
		s.writeDomainError(w, err, "failed to read register")
		return
	}

	writeJSON(w, http.StatusOK, registerValue{
		ControllerID: controllerID,
		RegisterID:   def.ID,
		Name:         def.Name,
		Value:        value,
		Unit:         def.Unit,
		Timestamp:    time.Now().UTC(),
	})
}

// handleWriteValue encodes an engineering value and writes it to the
// device. Values outside the register's configured bounds are rejected
// before anything is sent.
func (s *Server) handleWriteValue(w http.ResponseWriter, r *http.Request) {
	controllerID := chi.URLParam(r, "id")

	var req writeValueRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Value == nil || math.IsNaN(*req.Value) || math.IsInf(*req.Value, 0) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "value must be a finite number")
		return
	}

	def, err := s.catalogue.Register(r.Context(), controllerID, chi.URLParam(r, "registerID"))
	if err != nil {
		s.writeDomainError(w, err, "failed to write register")
		return
	}
	if err := def.CheckBounds(*req.Value); err != nil {
		s.writeDomainError(w, err, "failed to write register")
		return
	}
	if err := s.ensureLive(r.Context(), controllerID); err != nil {
		s.writeDomainError(w, err, "failed to write register")
		return
	}

	words, err := s.registry.WriteValue(r.Context(), controllerID, def, *req.Value)
	if err != nil {
		s.writeDomainError(w, err, "failed to write register")
		return
	}

	s.logger.Info("register written", "controller_id", controllerID, "register_id", def.ID,
		"value", *req.Value, "user_id", claimsFromContext(r.Context()).Subject)
	s.record(r, audit.ActionWrite, audit.EntityRegister, def.ID, map[string]any{
		"controller_id": controllerID,
		"value":         *req.Value,
	})
	writeJSON(w, http.StatusOK, registerValue{
		ControllerID: controllerID,
		RegisterID:   def.ID,
		Name:         def.Name,
		Value:        *req.Value,
		Unit:         def.Unit,
		Raw:          words,
		Timestamp:    time.Now().UTC(),
	})
}

// ensureLive registers the controller with the engine if it is not
// already there, so one-off reads work without a running poll loop.
func (s *Server) ensureLive(ctx context.Context, controllerID string) error {
	if s.registry.Has(controllerID) {
		return nil
	}
	cfg, err := s.catalogue.ControllerConnection(ctx, controllerID)
	if err != nil {
		return err
	}
	if err := s.registry.Add(cfg); err != nil && !errors.Is(err, modbus.ErrAlreadyExists) {
		return err
	}
	return nil
}
