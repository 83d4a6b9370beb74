package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/plcwatch-core/internal/auth"
	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/plc"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried in Error.Code.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeDevice       = "device_error"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(body)
}

// readJSON decodes the request body into dst. On failure it answers 400
// and reports false; the handler should return straight away.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, msg)
}

func writeNotFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, msg)
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, msg)
}

func writeForbidden(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, msg)
}

func writeInternalError(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, msg)
}

// domainStatus maps catalogue, engine and account errors to an HTTP status
// and error code. Unknown errors map to 500.
func domainStatus(err error) (int, string) {
	switch {
	case errors.Is(err, plc.ErrControllerNotFound),
		errors.Is(err, plc.ErrRegisterNotFound),
		errors.Is(err, modbus.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, ErrCodeNotFound

	case errors.Is(err, plc.ErrControllerExists),
		errors.Is(err, plc.ErrRegisterExists),
		errors.Is(err, modbus.ErrAlreadyExists),
		errors.Is(err, auth.ErrUsernameExists):
		return http.StatusConflict, ErrCodeConflict

	case errors.Is(err, plc.ErrInvalidController),
		errors.Is(err, plc.ErrInvalidRegister),
		errors.Is(err, plc.ErrRegisterOverlap),
		errors.Is(err, modbus.ErrOutOfRange),
		errors.Is(err, modbus.ErrEncode),
		errors.Is(err, modbus.ErrUnsupportedType),
		errors.Is(err, modbus.ErrInvalidConfig),
		errors.Is(err, auth.ErrInvalidUser):
		return http.StatusBadRequest, ErrCodeValidation

	case errors.Is(err, modbus.ErrAlreadyMonitoring),
		errors.Is(err, modbus.ErrNotMonitoring),
		errors.Is(err, modbus.ErrMonitorClosed):
		return http.StatusBadRequest, ErrCodeBadRequest

	case errors.Is(err, modbus.ErrConnection),
		errors.Is(err, modbus.ErrRead),
		errors.Is(err, modbus.ErrWrite),
		errors.Is(err, modbus.ErrDecode):
		return http.StatusBadGateway, ErrCodeDevice
	}
	return http.StatusInternalServerError, ErrCodeInternal
}

// writeDomainError writes err using domainStatus. Internal errors are
// logged and replaced with fallback so storage details do not leak.
func (s *Server) writeDomainError(w http.ResponseWriter, err error, fallback string) {
	status, code := domainStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
		return
	}
	writeError(w, status, code, err.Error())
}
