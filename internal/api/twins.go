package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/twincore/internal/reconcile"
	"github.com/nerrad567/twincore/internal/twin"
)

// handleListTwins returns all registered twins.
func (s *Server) handleListTwins(w http.ResponseWriter, _ *http.Request) {
	twins := s.twins.List()
	writeJSON(w, http.StatusOK, map[string]any{"twins": twins, "count": len(twins)})
}

// handleGetTwin returns a single twin by device id.
func (s *Server) handleGetTwin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.twins.Get(id)
	if err != nil {
		if errors.Is(err, twin.ErrTwinNotFound) {
			writeNotFound(w, "twin not found")
			return
		}
		writeInternalError(w, "failed to get twin")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// createTwinRequest is the request body for POST /twins.
type createTwinRequest struct {
	BoardID        string                   `json:"board_id"`
	DeviceID       string                   `json:"device_id"`
	DisplayName    string                   `json:"display_name,omitempty"`
	Simulation     *twin.SimulationSettings `json:"simulation,omitempty"`
	InitialPins    map[int]any              `json:"initial_pins,omitempty"`
	InitialSensors map[string]float64       `json:"initial_sensors,omitempty"`
}

// handleCreateTwin materialises a twin from a board template.
//
// Re-creating an existing device id replaces the old twin — intentional
// for re-association after reconnection. Simulated twins start their
// simulation drive immediately when a driver is wired.
func (s *Server) handleCreateTwin(w http.ResponseWriter, r *http.Request) {
	var req createTwinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.BoardID == "" {
		writeBadRequest(w, "board_id is required")
		return
	}
	if req.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}

	// A replaced twin must not keep its old simulation ticker.
	if s.simulator != nil {
		s.simulator.StopTwin(req.DeviceID)
	}

	opts := twin.CreateOptions{
		DisplayName:    req.DisplayName,
		Simulation:     req.Simulation,
		InitialPins:    req.InitialPins,
		InitialSensors: req.InitialSensors,
	}

	t, err := s.twins.CreateTwin(r.Context(), req.BoardID, req.DeviceID, opts, s.source)
	if err != nil {
		if errors.Is(err, twin.ErrTemplateUnavailable) {
			writeNotFound(w, err.Error())
			return
		}
		s.logger.Error("twin creation failed", "board_id", req.BoardID, "device_id", req.DeviceID, "error", err)
		writeInternalError(w, "failed to create twin")
		return
	}

	if t.Simulation.Simulated && s.simulator != nil {
		if err := s.simulator.StartTwin(req.DeviceID); err != nil {
			s.logger.Warn("simulation drive did not start", "device_id", req.DeviceID, "error", err)
		}
	}

	s.publishBoard(req.DeviceID)

	writeJSON(w, http.StatusCreated, t)
}

// handleDeleteTwin removes a twin and everything hanging off it: the
// simulation drive, pending engine state and the retained board summary.
func (s *Server) handleDeleteTwin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.twins.Remove(id); err != nil {
		if errors.Is(err, twin.ErrTwinNotFound) {
			writeNotFound(w, "twin not found")
			return
		}
		writeInternalError(w, "failed to remove twin")
		return
	}

	if s.simulator != nil {
		s.simulator.StopTwin(id)
	}
	s.engine.ClearDevice(id)

	if s.boards != nil {
		if err := s.boards.RetireTwin(id); err != nil {
			s.logger.Debug("board summary retire failed", "device_id", id, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// gpioWriteRequest is the request body for PUT /twins/{id}/gpio/{pin}.
// Value carries the target level (bool for digital, number for analog
// counts or PWM duty cycle); Mode optionally switches the pin mode in
// the same write.
type gpioWriteRequest struct {
	Value any    `json:"value,omitempty"`
	Mode  string `json:"mode,omitempty"`
}

// handleWriteGPIO submits a virtual GPIO write.
//
// The write goes through the validator, so for physical twins the call
// returns only after the device confirmed the change — or with 422 when
// it did not.
func (s *Server) handleWriteGPIO(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	pin, err := strconv.Atoi(chi.URLParam(r, "pin"))
	if err != nil {
		writeBadRequest(w, "pin must be a number")
		return
	}

	var req gpioWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil && req.Mode == "" {
		writeBadRequest(w, "value or mode is required")
		return
	}

	if err := s.writer.UpdateGPIOState(r.Context(), id, pin, req.Value, req.Mode); err != nil {
		s.writeWriteError(w, err)
		return
	}

	t, err := s.twins.Get(id)
	if err != nil {
		writeInternalError(w, "failed to read back twin")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"pin":       pin,
		"state":     t.Pins[pin],
	})
}

// sensorWriteRequest is the request body for PUT /twins/{id}/sensors/{sensorID}.
type sensorWriteRequest struct {
	Value float64 `json:"value"`
}

// handleWriteSensor overrides a simulated twin's sensor reading.
func (s *Server) handleWriteSensor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sensorID := chi.URLParam(r, "sensorID")

	var req sensorWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.writer.UpdateSensorValue(r.Context(), id, sensorID, req.Value); err != nil {
		s.writeWriteError(w, err)
		return
	}

	t, err := s.twins.Get(id)
	if err != nil {
		writeInternalError(w, "failed to read back twin")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"sensor_id": sensorID,
		"state":     t.Sensors[sensorID],
	})
}

// writeWriteError maps validator errors onto HTTP statuses. Unknown twin
// is a 404, a value that cannot fit the pin variant is a 400, and a
// write the device refused (or that dereferences missing hardware) is a
// 422 — the request was well-formed, the hardware said no.
func (s *Server) writeWriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, twin.ErrTwinNotFound):
		writeNotFound(w, "twin not found")
	case errors.Is(err, reconcile.ErrInvalidValue):
		writeBadRequest(w, err.Error())
	case errors.Is(err, reconcile.ErrValidationFailed):
		writeValidationError(w, err.Error())
	default:
		s.logger.Error("virtual write failed", "error", err)
		writeInternalError(w, "virtual write failed")
	}
}

// publishBoard refreshes the retained board summary, when a notifier is wired.
func (s *Server) publishBoard(deviceID string) {
	if s.boards == nil {
		return
	}
	if err := s.boards.PublishBoard(deviceID); err != nil {
		s.logger.Debug("board summary publish failed", "device_id", deviceID, "error", err)
	}
}
