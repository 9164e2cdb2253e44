package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/service"
)

// AdminHandler serves the admin API.
type AdminHandler struct {
	accounts *service.AuthService
	logger   *slog.Logger
}

func NewAdminHandler(accounts *service.AuthService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{accounts: accounts, logger: logger}
}

// HandleListUsers returns a page of users, newest first.
//
// HTTP: GET /api/admin/users?limit=20&offset=0   (RequireAuth + RequireAdmin)
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := h.accounts.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing users", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}
