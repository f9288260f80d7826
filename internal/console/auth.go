package console

import (
	"net/http"
	"strings"

	"github.com/gorilla/csrf"

	"github.com/phillip-england/clubadmin/internal/ctxutil"
	"github.com/phillip-england/clubadmin/internal/security"
	"github.com/phillip-england/clubadmin/internal/store"
)

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.currentSession(r); ok {
		http.Redirect(w, r, "/admin", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.currentSession(r); ok {
		http.Redirect(w, r, "/admin", http.StatusFound)
		return
	}
	s.render(w, r, http.StatusOK, "login", s.basePage(r, "Sign in"))
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		redirectError(w, r, "/login", "Invalid form submission")
		return
	}
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if username == "" || password == "" {
		redirectError(w, r, "/login", "Username and password are required")
		return
	}

	// Always run bcrypt so a wrong username costs the same as a wrong password.
	passwordOK := security.VerifyPassword(password, s.cfg.PasswordHash)
	if !security.ConstantTimeEqual(username, s.cfg.Username) || !passwordOK {
		s.log.WarnContext(r.Context(), "login failed", "username", username, "remote", r.RemoteAddr)
		redirectError(w, r, "/login", "Invalid credentials")
		return
	}

	sess, err := s.sessions.Create(username)
	if err != nil {
		s.log.ErrorContext(r.Context(), "create session", "error", err)
		redirectError(w, r, "/login", "Unable to sign in")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
	})
	s.log.InfoContext(r.Context(), "admin signed in", "username", username)
	http.Redirect(w, r, "/admin", http.StatusFound)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.checkpointSession(r)
	s.sessions.Delete(ctxutil.SessionIDFromCtx(r.Context()))
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	redirectMessage(w, r, "/login", "Signed out")
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.currentSession(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		ctx := ctxutil.WithSessionID(r.Context(), sess.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) currentSession(r *http.Request) (security.Session, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return security.Session{}, false
	}
	return s.sessions.Get(c.Value)
}

// workspace returns the stores of the signed in session.
func (s *Server) workspace(r *http.Request) *store.Workspace {
	id := ctxutil.SessionIDFromCtx(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		ws = store.NewWorkspace(s.catalog, s.sources, s.log)
		s.workspaces[id] = ws
	}
	return ws
}

func (s *Server) dropWorkspace(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workspaces, id)
	delete(s.visited, id)
}

func (s *Server) csrfFailure(w http.ResponseWriter, r *http.Request) {
	s.log.WarnContext(r.Context(), "csrf check failed", "path", r.URL.Path, "reason", csrf.FailureReason(r))
	http.Error(w, "form expired, reload the page and try again", http.StatusForbidden)
}
