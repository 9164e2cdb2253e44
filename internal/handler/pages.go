// Package handler contains the HTTP handlers of ChatCode.
//
// Handlers are the glue between HTTP and the service layer:
//  1. parse the request (path, query, form, cookies)
//  2. call a service
//  3. write the response: an HTML page, a redirect, a PNG or JSON
//
// They hold no business logic.
package handler

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"path/filepath"
)

// Page names. Each one is a file "<name>.html" in the template directory
// that defines the "content" block used by base.html.
const (
	pageHome      = "home"
	pageRegister  = "register"
	pageLogin     = "login"
	pageDashboard = "dashboard"
	pageProfile   = "profile"
	pagePublic    = "public"
	pageError     = "error"
)

var pageNames = []string{pageHome, pageRegister, pageLogin, pageDashboard, pageProfile, pagePublic, pageError}

var templateFuncs = template.FuncMap{
	"providerLabel": providerLabel,
}

// providerLabel returns the display name of a provider key.
func providerLabel(name string) string {
	switch name {
	case "github":
		return "GitHub"
	case "google":
		return "Google"
	default:
		return name
	}
}

// Renderer executes the page templates. Templates are parsed once at
// startup; every page gets its own set because each one defines
// "content" differently.
type Renderer struct {
	pages  map[string]*template.Template
	logger *slog.Logger
}

// NewRenderer parses base.html together with every page template in
// templateDir.
func NewRenderer(templateDir string, logger *slog.Logger) (*Renderer, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFiles(
			filepath.Join(templateDir, "base.html"),
			filepath.Join(templateDir, name+".html"),
		)
		if err != nil {
			return nil, fmt.Errorf("handler: parsing %s template: %w", name, err)
		}
		pages[name] = tmpl
	}
	return &Renderer{pages: pages, logger: logger}, nil
}

// Render executes page into a buffer and writes it with status. Rendering
// into a buffer first means a template error still yields a clean 500
// instead of half a page.
func (rd *Renderer) Render(w http.ResponseWriter, status int, page string, data map[string]any) {
	tmpl, ok := rd.pages[page]
	if !ok {
		rd.logger.Error("unknown page template", slog.String("page", page))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = map[string]any{}
	}
	// Keys the templates read unconditionally.
	if _, ok := data["Title"]; !ok {
		data["Title"] = "ChatCode"
	}
	if _, ok := data["Form"]; !ok {
		data["Form"] = map[string]string{}
	}
	if _, ok := data["Field"]; !ok {
		data["Field"] = ""
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		rd.logger.Error("failed to render template",
			slog.String("page", page),
			slog.String("error", err.Error()),
		)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// RenderError shows the generic error page.
func (rd *Renderer) RenderError(w http.ResponseWriter, status int, message string) {
	rd.Render(w, status, pageError, map[string]any{
		"Title":   http.StatusText(status),
		"Status":  status,
		"Message": message,
	})
}
