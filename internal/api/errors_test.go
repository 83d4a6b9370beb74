package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/nerrad567/plcwatch-core/internal/auth"
	"github.com/nerrad567/plcwatch-core/internal/bridges/modbus"
	"github.com/nerrad567/plcwatch-core/internal/plc"
)

func TestDomainStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"controller not found", plc.ErrControllerNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"wrapped engine not found", fmt.Errorf("%w: %w", modbus.ErrNotFound, plc.ErrRegisterNotFound), http.StatusNotFound, ErrCodeNotFound},
		{"user not found", auth.ErrUserNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"duplicate controller", plc.ErrControllerExists, http.StatusConflict, ErrCodeConflict},
		{"duplicate username", auth.ErrUsernameExists, http.StatusConflict, ErrCodeConflict},
		{"overlap", fmt.Errorf("%w: r1 overlaps r2", plc.ErrRegisterOverlap), http.StatusBadRequest, ErrCodeValidation},
		{"out of range", modbus.ErrOutOfRange, http.StatusBadRequest, ErrCodeValidation},
		{"encode", modbus.ErrEncode, http.StatusBadRequest, ErrCodeValidation},
		{"already monitoring", modbus.ErrAlreadyMonitoring, http.StatusBadRequest, ErrCodeBadRequest},
		{"not monitoring", modbus.ErrNotMonitoring, http.StatusBadRequest, ErrCodeBadRequest},
		{"connection", fmt.Errorf("dial: %w", modbus.ErrConnection), http.StatusBadGateway, ErrCodeDevice},
		{"read", modbus.ErrRead, http.StatusBadGateway, ErrCodeDevice},
		{"unknown", errors.New("disk full"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := domainStatus(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("domainStatus() = %d %q, want %d %q", status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}
