package api

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/erazemk/makhzan/internal/auth"
	"github.com/erazemk/makhzan/internal/custody"
	"github.com/erazemk/makhzan/internal/model"
	"github.com/erazemk/makhzan/internal/store"
)

// UsersHandler handles user management endpoints (admin only).
type UsersHandler struct {
	DB *sql.DB
}

type createUserRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type updateUserRequest struct {
	Role string `json:"role"`
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

func userID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

// List handles GET /api/users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role != "" && !model.ValidRole(role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}
	users, err := store.ListUsers(r.Context(), h.DB, role)
	if err != nil {
		slog.Error("failed to list users", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []model.User{}
	}
	jsonResponse(w, http.StatusOK, users)
}

// Create handles POST /api/users.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Name = custody.CleanText(req.Name)
	if req.Name == "" || req.Password == "" || req.Role == "" {
		jsonError(w, http.StatusBadRequest, "name, password, and role required")
		return
	}
	if !model.ValidRole(req.Role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}

	user, status, err := createAccount(r, h.DB, req.Name, req.Password, req.Role)
	if err != nil {
		jsonError(w, status, err.Error())
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("user created", "user", claims.Name, "new_user", user.Name, "role", user.Role)
	jsonResponse(w, http.StatusCreated, user)
}

// createAccount validates and hashes password and inserts the account. On
// failure it returns the status code to answer with.
func createAccount(r *http.Request, db *sql.DB, name, password, role string) (*model.User, int, error) {
	if err := model.ValidatePassword(password); err != nil {
		return nil, http.StatusBadRequest, err
	}

	existing, err := store.GetUserByName(r.Context(), db, name)
	if err != nil {
		slog.Error("failed to look up user", "error", err)
		return nil, http.StatusInternalServerError, fmt.Errorf("internal error")
	}
	if existing != nil {
		return nil, http.StatusConflict, fmt.Errorf("name already exists")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to hash password")
	}

	user, err := store.CreateUser(r.Context(), db, name, hash, role)
	if err != nil {
		return nil, http.StatusConflict, fmt.Errorf("name already exists")
	}
	return user, 0, nil
}

// Get handles GET /api/users/{id}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if user == nil {
		jsonError(w, http.StatusNotFound, "user not found")
		return
	}

	jsonResponse(w, http.StatusOK, user)
}

// Update handles PUT /api/users/{id}.
func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !model.ValidRole(req.Role) {
		jsonError(w, http.StatusBadRequest, "invalid role")
		return
	}

	claims := GetClaims(r.Context())
	if claims.UserID == id && req.Role != model.RoleAdmin {
		jsonError(w, http.StatusBadRequest, "cannot demote yourself")
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	if user == nil || user.DeletedAt != nil {
		jsonError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := store.UpdateUserRole(r.Context(), h.DB, id, req.Role); err != nil {
		slog.Error("failed to update user", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update user")
		return
	}
	user.Role = req.Role

	slog.Info("user role updated", "user", claims.Name, "target_user", user.Name, "new_role", req.Role)
	jsonResponse(w, http.StatusOK, user)
}

// ResetPassword handles PUT /api/users/{id}/password.
func (h *UsersHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	target, status, err := setPassword(r, h.DB, id, "", req.Password)
	if err != nil {
		jsonError(w, status, err.Error())
		return
	}

	claims := GetClaims(r.Context())
	slog.Info("user password reset", "user", claims.Name, "target_user", target.Name)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "password reset"})
}

// setPassword replaces the password of the active account id. A non-empty
// role restricts the target to that role.
func setPassword(r *http.Request, db *sql.DB, id int64, role, password string) (*model.User, int, error) {
	target, err := store.GetUser(r.Context(), db, id)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		return nil, http.StatusInternalServerError, fmt.Errorf("internal error")
	}
	if target == nil || target.DeletedAt != nil || (role != "" && target.Role != role) {
		return nil, http.StatusNotFound, fmt.Errorf("user not found")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to hash password")
	}
	if err := store.UpdateUserPassword(r.Context(), db, id, hash); err != nil {
		slog.Error("failed to reset password", "error", err)
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to reset password")
	}
	return target, 0, nil
}

// Delete handles DELETE /api/users/{id}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := userID(r)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	claims := GetClaims(r.Context())
	if claims != nil && claims.UserID == id {
		jsonError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}

	target, status, err := deleteAccount(r, h.DB, id, "")
	if err != nil {
		jsonError(w, status, err.Error())
		return
	}

	slog.Info("user deleted", "user", claims.Name, "deleted_user", target.Name)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

// deleteAccount soft-deletes the active account id. Accounts still holding
// items cannot be deleted, since their custody would become unreachable.
func deleteAccount(r *http.Request, db *sql.DB, id int64, role string) (*model.User, int, error) {
	target, err := store.GetUser(r.Context(), db, id)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		return nil, http.StatusInternalServerError, fmt.Errorf("internal error")
	}
	if target == nil || target.DeletedAt != nil || (role != "" && target.Role != role) {
		return nil, http.StatusNotFound, fmt.Errorf("user not found")
	}

	held, err := store.CountHeldBy(r.Context(), db, target.Name)
	if err != nil {
		slog.Error("failed to count held items", "error", err)
		return nil, http.StatusInternalServerError, fmt.Errorf("internal error")
	}
	if held > 0 {
		return nil, http.StatusConflict, fmt.Errorf("%s still holds %d items", target.Name, held)
	}

	if err := store.DeleteUser(r.Context(), db, id); err != nil {
		slog.Error("failed to delete user", "error", err)
		return nil, http.StatusInternalServerError, fmt.Errorf("failed to delete user")
	}
	return target, 0, nil
}

// rosterName trims a display name and rejects blank ones.
func rosterName(name string) (string, bool) {
	name = custody.CleanText(name)
	return name, name != ""
}
