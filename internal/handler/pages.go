package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"

	"github.com/boddenberg/consultant-bfa-go/internal/guard"
	"github.com/boddenberg/consultant-bfa-go/internal/i18n"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

//go:embed shell/index.html
var shellFS embed.FS

// dashboardSections are the pages under /dashboard/.
var dashboardSections = map[string]bool{
	"clients":  true,
	"projects": true,
	"expenses": true,
	"bookings": true,
	"payments": true,
	"notes":    true,
	"settings": true,
}

type shellData struct {
	Lang    string
	Theme   string
	Path    string
	Message string
}

// shell serves the single-page app entry document. A built app from a static
// directory is served as is; otherwise the embedded template is rendered.
type shell struct {
	tmpl   *template.Template
	static []byte
	logger *zap.Logger
}

func newShell(staticDir string, logger *zap.Logger) (*shell, error) {
	if staticDir != "" {
		b, err := os.ReadFile(filepath.Join(staticDir, "index.html"))
		if err != nil {
			return nil, fmt.Errorf("read app shell: %w", err)
		}
		return &shell{static: b, logger: logger}, nil
	}
	tmpl, err := template.ParseFS(shellFS, "shell/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse app shell: %w", err)
	}
	return &shell{tmpl: tmpl, logger: logger}, nil
}

func (s *shell) render(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if s.static != nil {
		w.WriteHeader(status)
		w.Write(s.static)
		return
	}

	prefs := preferencesFrom(r.Context())
	var buf bytes.Buffer
	err := s.tmpl.Execute(&buf, shellData{
		Lang:    prefs.Language,
		Theme:   prefs.Theme,
		Path:    r.URL.Path,
		Message: message,
	})
	if err != nil {
		s.logger.Error("render app shell", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (s *shell) page() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, "")
	}
}

func (s *shell) notFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusNotFound, i18n.T(preferencesFrom(r.Context()).Language, i18n.MsgPageNotFound))
	}
}

// authPage serves /login and /signup; a signed-in visitor is sent on to the
// sanitized ?from= target.
func authPage(s *shell) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st := resolveState(r); st != nil && !st.Loading() && st.CurrentIdentity() != nil {
			http.Redirect(w, r, guard.ReturnPath(r.URL.Query().Get("from")), http.StatusSeeOther)
			return
		}
		s.render(w, r, http.StatusOK, "")
	}
}

func dashboardSectionPage(s *shell) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !dashboardSections[chi.URLParam(r, "section")] {
			s.notFound()(w, r)
			return
		}
		s.render(w, r, http.StatusOK, "")
	}
}

func apiNotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, i18n.MsgNotFound)
	}
}
