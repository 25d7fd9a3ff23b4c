package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"playbooks/internal/domain"
	"playbooks/internal/engine"
	"playbooks/internal/validate"
)

const resetNotice = "Password login is not enabled on this server. Ask an administrator for a sign-in link."

func (s *server) registerAccountForms(r chi.Router) {
	r.Route("/auth/user", func(r chi.Router) {
		r.Get("/login/", s.loginPage)
		r.Post("/login/", s.loginSubmit)
		r.Post("/logout/", s.logout)
		r.Get("/register/", s.registerPage)
		r.Post("/register/", s.registerSubmit)
		r.Get("/password-reset/", s.passwordReset)
		r.Post("/password-reset/", s.passwordReset)
		r.Get("/password-reset-confirm/", s.passwordReset)
		r.Post("/password-reset-confirm/", s.passwordReset)
		r.Get("/onboarding/", s.onboardingPage)
		r.Post("/onboarding/", s.onboardingSubmit)
		r.Get("/onboarding/tour/", s.onboardingTour)
	})
}

// safeNext keeps post-login redirects on this site.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/dashboard/"
	}
	return next
}

func (s *server) loginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, map[string]any{
		"form":      "login",
		"fields":    []string{"username", "remember_me"},
		"next":      safeNext(r.URL.Query().Get("next")),
		"dev_login": s.cfg.Auth.DevLogin,
	})
}

func (s *server) signIn(w http.ResponseWriter, r *http.Request, u domain.User, remember bool) error {
	ttl := s.cfg.SessionTTL
	if remember {
		ttl = s.cfg.RememberTTL
	}
	token, err := signToken(s.cfg.Auth, u, ttl)
	if err != nil {
		return err
	}
	setTokenCookie(w, token, ttl)
	return nil
}

func (s *server) loginSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	if !s.cfg.Auth.DevLogin {
		invalid(w, r, validate.FieldFailure("username", validate.KindFieldInvalid, resetNotice).Result)
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	if username == "" {
		invalid(w, r, validate.FieldFailure("username", validate.KindNameInvalid, "Enter your username.").Result)
		return
	}
	u, err := s.cfg.Engine.Users.ByUsername(r.Context(), username)
	if errors.Is(err, engine.ErrNotFound) {
		invalid(w, r, validate.FieldFailure("username", validate.KindNameInvalid, "No account with that username.").Result)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.signIn(w, r, u, formBool(r, "remember_me")); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.For(r.Context()).Info("user signed in", "user_id", u.ID)
	redirect(w, r, safeNext(r.PostFormValue("next")))
}

func (s *server) logout(w http.ResponseWriter, r *http.Request) {
	clearTokenCookie(w)
	redirect(w, r, loginPath)
}

func (s *server) registerPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, map[string]any{
		"form":   "register",
		"fields": []string{"username", "email", "display_name"},
	})
}

func (s *server) registerSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	u, err := s.cfg.Engine.Users.Register(r.Context(), validate.UserFields{
		Username:    r.PostFormValue("username"),
		Email:       r.PostFormValue("email"),
		DisplayName: r.PostFormValue("display_name"),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.signIn(w, r, u, false); err != nil {
		s.fail(w, r, err)
		return
	}
	redirect(w, r, "/auth/user/onboarding/")
}

func (s *server) passwordReset(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, map[string]string{"detail": resetNotice})
}

func (s *server) onboardingPage(w http.ResponseWriter, r *http.Request) {
	st, err := s.cfg.Engine.Onboarding.Get(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, st)
}

func (s *server) onboardingSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	st, err := onboardingAction(r.Context(), s.cfg.Engine, r.PostFormValue("action"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if st.IsCompleted {
		redirect(w, r, "/dashboard/")
		return
	}
	redirect(w, r, "/auth/user/onboarding/")
}

func (s *server) onboardingTour(w http.ResponseWriter, r *http.Request) {
	st, err := s.cfg.Engine.Onboarding.Get(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	step := ""
	if !st.IsCompleted && st.CurrentStep >= 0 && st.CurrentStep < len(domain.OnboardingSteps) {
		step = domain.OnboardingSteps[st.CurrentStep]
	}
	s.render(w, r, map[string]any{"steps": domain.OnboardingSteps, "current": step, "state": st})
}
