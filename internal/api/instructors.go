package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/erazemk/makhzan/internal/model"
	"github.com/erazemk/makhzan/internal/store"
)

// InstructorsHandler lets supervisors manage instructor accounts.
type InstructorsHandler struct {
	DB              *sql.DB
	DefaultPassword string
}

type createInstructorRequest struct {
	Name string `json:"name"`
}

type rosterResponse struct {
	Instructors []string `json:"instructors"`
	Supervisors []string `json:"supervisors"`
}

// Roster handles GET /api/roster. It lists display names for login pickers.
func (h *InstructorsHandler) Roster(w http.ResponseWriter, r *http.Request) {
	instructors, err := store.Roster(r.Context(), h.DB, model.RoleInstructor)
	if err != nil {
		slog.Error("failed to list instructors", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list roster")
		return
	}
	supervisors, err := store.Roster(r.Context(), h.DB, model.RoleSupervisor)
	if err != nil {
		slog.Error("failed to list supervisors", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list roster")
		return
	}
	jsonResponse(w, http.StatusOK, rosterResponse{
		Instructors: nonNil(instructors),
		Supervisors: nonNil(supervisors),
	})
}

// List handles GET /api/instructors.
func (h *InstructorsHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := store.ListUsers(r.Context(), h.DB, model.RoleInstructor)
	if err != nil {
		slog.Error("failed to list instructors", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list instructors")
		return
	}
	jsonResponse(w, http.StatusOK, nonNil(users))
}

// Create handles POST /api/instructors. New instructors get the default
// password and are expected to change it.
func (h *InstructorsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createInstructorRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name, ok := rosterName(req.Name)
	if !ok {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	user, status, err := createAccount(r, h.DB, name, h.DefaultPassword, model.RoleInstructor)
	if err != nil {
		jsonError(w, status, err.Error())
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("instructor added", "user", claims.Name, "instructor", user.Name)
	jsonResponse(w, http.StatusCreated, user)
}

// Delete handles DELETE /api/instructors/{id}.
func (h *InstructorsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid instructor id")
		return
	}

	target, status, err := deleteAccount(r, h.DB, id, model.RoleInstructor)
	if err != nil {
		jsonError(w, status, err.Error())
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("instructor removed", "user", claims.Name, "instructor", target.Name)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "instructor deleted"})
}

// ResetPassword handles POST /api/instructors/{id}/reset-password.
func (h *InstructorsHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid instructor id")
		return
	}

	target, status, err := setPassword(r, h.DB, id, model.RoleInstructor, h.DefaultPassword)
	if err != nil {
		jsonError(w, status, err.Error())
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("instructor password reset", "user", claims.Name, "instructor", target.Name)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password reset to default"})
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
