package api

import (
	"cmp"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/plcwatch-core/internal/audit"
	"github.com/nerrad567/plcwatch-core/internal/auth"
)

type createUserRequest struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Password    string    `json:"password"`
	Role        auth.Role `json:"role"`
}

// updateUserRequest is a PATCH body; nil fields are left alone.
type updateUserRequest struct {
	DisplayName *string    `json:"display_name,omitempty"`
	Email       *string    `json:"email,omitempty"`
	Role        *auth.Role `json:"role,omitempty"`
	IsActive    *bool      `json:"is_active,omitempty"`
	Password    *string    `json:"password,omitempty"`
}

// forbidden explains why the caller may not perform this change, or
// returns "" when it is allowed. Nobody disables, demotes or deletes
// themselves, and only an owner touches owner accounts.
func (req updateUserRequest) forbidden(caller *auth.CustomClaims, target *auth.User) string {
	self := target.ID == caller.Subject
	switch {
	case self && req.IsActive != nil && !*req.IsActive:
		return "cannot deactivate your own account"
	case self && req.Role != nil && *req.Role != caller.Role:
		return "cannot change your own role"
	case !auth.CanAssignRole(caller.Role, target.Role):
		return "cannot modify an account with role " + string(target.Role)
	case req.Role != nil && !auth.CanAssignRole(caller.Role, *req.Role):
		return "cannot assign role " + string(*req.Role)
	}
	return ""
}

func (req updateUserRequest) apply(u *auth.User) {
	if req.DisplayName != nil {
		u.DisplayName = *req.DisplayName
	}
	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.Role != nil {
		u.Role = *req.Role
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.users.List(r.Context())
	if err != nil {
		s.writeDomainError(w, err, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

// handleCreateUser adds an account. Role defaults to user and display
// name to the username.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !readJSON(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.DisplayName = cmp.Or(req.DisplayName, req.Username)
	req.Role = cmp.Or(req.Role, auth.RoleUser)

	switch {
	case !auth.IsValidUsername(req.Username):
		writeBadRequest(w, "username must be 1-64 characters of letters, digits, '.', '_' or '-'")
		return
	case !auth.IsValidUserRole(req.Role):
		writeBadRequest(w, "role must be user, admin or owner")
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	caller := claimsFromContext(r.Context())
	if !auth.CanAssignRole(caller.Role, req.Role) {
		writeForbidden(w, "cannot create an account with role "+string(req.Role))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.writeDomainError(w, err, "failed to create user")
		return
	}
	user := &auth.User{
		Username:     req.Username,
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
		CreatedBy:    caller.Subject,
	}
	if err := s.users.Create(r.Context(), user); err != nil {
		s.writeDomainError(w, err, "failed to create user")
		return
	}

	s.logger.Info("user created", "user_id", user.ID, "username", user.Username, "role", user.Role, "by", caller.Subject)
	s.record(r, audit.ActionCreate, audit.EntityUser, user.ID, map[string]any{"role": string(user.Role)})
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.users.GetByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, err, "failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser patches profile fields, role, active flag and
// optionally the password.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := claimsFromContext(ctx)

	var req updateUserRequest
	if !readJSON(w, r, &req) {
		return
	}

	user, err := s.users.GetByID(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		s.writeDomainError(w, err, "failed to update user")
		return
	}
	if reason := req.forbidden(caller, user); reason != "" {
		writeForbidden(w, reason)
		return
	}

	var hash string
	if req.Password != nil {
		if err := auth.ValidatePassword(*req.Password); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		if hash, err = auth.HashPassword(*req.Password); err != nil {
			s.writeDomainError(w, err, "failed to update password")
			return
		}
	}

	req.apply(user)
	if err := s.users.Update(ctx, user); err != nil {
		s.writeDomainError(w, err, "failed to update user")
		return
	}
	if hash != "" {
		if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
			s.writeDomainError(w, err, "failed to update password")
			return
		}
	}

	s.logger.Info("user updated", "user_id", user.ID, "password_changed", hash != "", "by", caller.Subject)
	s.record(r, audit.ActionUpdate, audit.EntityUser, user.ID, nil)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := claimsFromContext(ctx)
	id := chi.URLParam(r, "userID")

	if id == caller.Subject {
		writeForbidden(w, "cannot delete your own account")
		return
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		s.writeDomainError(w, err, "failed to delete user")
		return
	}
	if !auth.CanAssignRole(caller.Role, user.Role) {
		writeForbidden(w, "cannot delete an account with role "+string(user.Role))
		return
	}
	if err := s.users.Delete(ctx, id); err != nil {
		s.writeDomainError(w, err, "failed to delete user")
		return
	}

	s.logger.Info("user deleted", "user_id", id, "by", caller.Subject)
	s.record(r, audit.ActionDelete, audit.EntityUser, id, nil)
	w.WriteHeader(http.StatusNoContent)
}
