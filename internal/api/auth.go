package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/nerrad567/plcwatch-core/internal/audit"
	"github.com/nerrad567/plcwatch-core/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	ExpiresIn   int        `json:"expires_in"`
	User        *auth.User `json:"user"`
}

// handleLogin exchanges a username and password for a bearer token.
// Unknown users and wrong passwords get the same 401.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeBadRequest(w, "username and password are required")
		return
	}

	user, err := auth.Authenticate(r.Context(), s.users, req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeUnauthorized(w, "invalid credentials")
		case errors.Is(err, auth.ErrUserInactive):
			writeForbidden(w, "account is disabled")
		default:
			s.logger.Error("authentication error", "username", req.Username, "error", err)
			writeInternalError(w, "login failed")
		}
		return
	}

	ttl := s.tokenTTL()
	token, err := auth.GenerateAccessToken(user, s.secCfg.JWT.Secret, ttl)
	if err != nil {
		s.logger.Error("signing access token", "user_id", user.ID, "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	s.logger.Info("login", "user_id", user.ID, "role", user.Role)
	s.audit.Record(r.Context(), audit.Entry{
		Action:     audit.ActionLogin,
		EntityType: audit.EntityUser,
		EntityID:   user.ID,
		UserID:     user.ID,
		Source:     audit.SourceAPI,
	})

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(ttl / time.Second),
		User:        user,
	})
}

func (s *Server) tokenTTL() time.Duration {
	if mins := s.secCfg.JWT.AccessTokenTTL; mins > 0 {
		return time.Duration(mins) * time.Minute
	}
	return auth.DefaultAccessTokenTTL
}

// handleMe reports the caller's account and what its role may do.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	user, err := s.users.GetByID(r.Context(), claims.Subject)
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		writeUnauthorized(w, "account no longer exists")
		return
	case err != nil:
		s.writeDomainError(w, err, "failed to load account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": auth.PermissionsForRole(user.Role),
	})
}

// handleWSTicket hands out a one-shot ticket for opening /ws, since
// browsers cannot set an Authorization header on the upgrade request.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(claims.Subject, claims.Role),
		"expires_in": int(ticketTTL / time.Second),
	})
}
