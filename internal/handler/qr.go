package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/chatcode/internal/apperror"
	"github.com/sakif/chatcode/internal/auth"
	"github.com/sakif/chatcode/internal/model"
	"github.com/sakif/chatcode/internal/service"
)

// QRHandler serves the signed-in pages (dashboard, profile, settings) and
// the public QR endpoints.
type QRHandler struct {
	accounts *service.AuthService
	codes    *service.QRService
	pages    *Renderer
	cookies  CookieConfig
	logger   *slog.Logger
}

func NewQRHandler(
	accounts *service.AuthService,
	codes *service.QRService,
	pages *Renderer,
	cookies CookieConfig,
	logger *slog.Logger,
) *QRHandler {
	return &QRHandler{
		accounts: accounts,
		codes:    codes,
		pages:    pages,
		cookies:  cookies,
		logger:   logger,
	}
}

// currentUser loads the user behind the session. A valid token for a user
// that no longer exists clears the cookie and sends the browser to /login;
// ok is false whenever a response has already been written.
func (h *QRHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.accounts.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) || errors.Is(err, apperror.ErrUnauthorized) {
			http.SetCookie(w, &http.Cookie{Name: auth.SessionCookieName, Path: "/", MaxAge: -1, HttpOnly: true})
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return nil, false
		}
		h.logger.Error("loading session user", slog.String("userID", userID), slog.String("error", err.Error()))
		h.pages.RenderError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return nil, false
	}
	return user, true
}

// settingsForm returns the values to pre-fill the settings form with.
func settingsForm(user *model.User, code *service.QRCode) map[string]string {
	form := map[string]string{"phone": user.PhoneNumber}
	if code != nil {
		form["phone"] = code.Record.PhoneNumber
		form["preset"] = code.Record.MessageTemplate
	}
	return form
}

// HandleDashboard shows the user's QR code, link and settings form.
//
// HTTP: GET /dashboard   (RequireLogin)
func (h *QRHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	code, err := h.codes.ForUser(r.Context(), user.ID)
	if err != nil && !service.IsMissing(err) {
		h.logger.Error("loading qr code", slog.String("userID", user.ID), slog.String("error", err.Error()))
		h.pages.RenderError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	h.pages.Render(w, http.StatusOK, pageDashboard, map[string]any{
		"Title": "Dashboard · ChatCode",
		"User":  user,
		"Code":  code,
		"Form":  settingsForm(user, code),
		"Saved": r.URL.Query().Get("saved") == "1",
	})
}

// HandleProfile shows the "complete your profile" form that new OAuth
// accounts land on.
//
// HTTP: GET /profile   (RequireLogin)
func (h *QRHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	code, err := h.codes.ForUser(r.Context(), user.ID)
	if err != nil && !service.IsMissing(err) {
		h.logger.Error("loading qr code", slog.String("userID", user.ID), slog.String("error", err.Error()))
	}

	h.pages.Render(w, http.StatusOK, pageProfile, map[string]any{
		"Title": "Complete your profile · ChatCode",
		"User":  user,
		"Form":  settingsForm(user, code),
	})
}

// HandleSettings saves the phone number and greeting.
//
// HTTP: POST /settings (form: phone, preset, from)   (RequireLogin)
//
// A validation error re-renders the page the form came from.
func (h *QRHandler) HandleSettings(w http.ResponseWriter, r *http.Request) {
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.pages.RenderError(w, http.StatusBadRequest, "Could not read the form.")
		return
	}

	in := service.SettingsInput{
		Phone:  r.PostFormValue("phone"),
		Preset: r.PostFormValue("preset"),
	}

	if _, err := h.codes.UpdateSettings(r.Context(), user.ID, in); err != nil {
		var appErr *apperror.AppError
		if !errors.As(err, &appErr) || !errors.Is(err, apperror.ErrValidation) {
			h.logger.Error("saving settings", slog.String("userID", user.ID), slog.String("error", err.Error()))
			h.pages.RenderError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
			return
		}

		page, title := pageDashboard, "Dashboard · ChatCode"
		if r.PostFormValue("from") == "profile" {
			page, title = pageProfile, "Complete your profile · ChatCode"
		}
		code, _ := h.codes.ForUser(r.Context(), user.ID)
		h.pages.Render(w, http.StatusBadRequest, page, map[string]any{
			"Title": title,
			"User":  user,
			"Code":  code,
			"Form":  map[string]string{"phone": in.Phone, "preset": in.Preset},
			"Field": appErr.Field,
			"Error": appErr.Message,
		})
		return
	}

	http.Redirect(w, r, "/dashboard?saved=1", http.StatusSeeOther)
}

// HandleQRImage serves a user's QR code as PNG.
//
// HTTP: GET /qr.png?u=<username>[&download=1][&size=<px>]
func (h *QRHandler) HandleQRImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	username := q.Get("u")

	size := 0
	if s := q.Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "invalid size", http.StatusBadRequest)
			return
		}
		size = n
	}

	png, err := h.codes.RenderPNG(r.Context(), username, size)
	if err != nil {
		if service.IsMissing(err) {
			http.Error(w, "QR code not found", http.StatusNotFound)
			return
		}
		h.logger.Error("rendering qr code", slog.String("username", username), slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if q.Get("download") == "1" {
		// Usernames are limited to [A-Za-z0-9_-], so no quoting is needed.
		w.Header().Set("Content-Disposition", "attachment; filename="+username+"_whatsapp_qr.png")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// HandlePublicPage shows a user's QR code and an "Open WhatsApp" button.
//
// HTTP: GET /u/{username}
func (h *QRHandler) HandlePublicPage(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	code, err := h.codes.GetByUsername(r.Context(), username)
	if err != nil {
		if service.IsMissing(err) {
			h.pages.RenderError(w, http.StatusNotFound, "There is no QR code here.")
			return
		}
		h.logger.Error("loading public page", slog.String("username", username), slog.String("error", err.Error()))
		h.pages.RenderError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	h.pages.Render(w, http.StatusOK, pagePublic, map[string]any{
		"Title": "Chat on WhatsApp",
		"Code":  code,
	})
}
