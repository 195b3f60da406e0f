package web

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"skytrack/internal/middleware"
	"skytrack/internal/model"
	"skytrack/internal/observability"
	"skytrack/internal/session"
	"skytrack/internal/supabase"

	"github.com/go-playground/validator/v10"
)

// roleCookie carries the role picked on /role-selection to the sign-up page.
const (
	roleCookie    = "skytrack-signup-role"
	roleCookieTTL = 30 * time.Minute
)

// formPage is the view model shared by the auth forms.
type formPage struct {
	Title       string
	Action      string
	Error       string
	Message     string
	Role        model.Role
	Email       string
	DisplayName string
	SchoolName  string
	ProgramType string
}

type signUpPage struct {
	path  string
	role  model.Role
	title string
}

var signUpPages = []signUpPage{
	{path: "/sign-up", role: model.RoleStudent, title: "Create your student account"},
	{path: "/cfi-sign-up", role: model.RoleCFI, title: "Create your instructor account"},
	{path: "/school-sign-up", role: model.RoleSchoolAdmin, title: "Register your flight school"},
}

func signUpPathFor(role model.Role) string {
	for _, p := range signUpPages {
		if p.role == role {
			return p.path
		}
	}
	return "/sign-up"
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type signUpForm struct {
	DisplayName     string `validate:"max=100"`
	Email           string `validate:"required,email"`
	Password        string `validate:"required,min=8,max=72"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
	ProgramType     string `validate:"omitempty,oneof=PART_61 PART_141"`
}

var fieldLabels = map[string]string{
	"DisplayName":     "Name",
	"Email":           "Email",
	"Password":        "Password",
	"ConfirmPassword": "Password confirmation",
	"ProgramType":     "Program type",
}

// validationMessage turns the first validator failure into a sentence for the form.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid form submission"
	}
	fe := verrs[0]
	label := fieldLabels[fe.Field()]
	if label == "" {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return "Enter a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
	case "eqfield":
		return "Passwords do not match"
	case "oneof":
		return label + " is not a valid choice"
	}
	return label + " is invalid"
}

func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.render(w, http.StatusOK, "login", formPage{
		Title:   "Sign in",
		Action:  "/login",
		Error:   q.Get("error"),
		Message: q.Get("message"),
	})
}

// Login runs the password grant and writes the session cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	page := formPage{Title: "Sign in", Action: "/login"}
	if err := r.ParseForm(); err != nil {
		page.Error = "Invalid form submission"
		h.render(w, http.StatusBadRequest, "login", page)
		return
	}
	form := loginForm{
		Email:    strings.TrimSpace(r.PostForm.Get("email")),
		Password: r.PostForm.Get("password"),
	}
	page.Email = form.Email
	if err := h.validate.Struct(form); err != nil {
		page.Error = validationMessage(err)
		h.render(w, http.StatusBadRequest, "login", page)
		return
	}
	if h.auth == nil {
		page.Error = authDisabledMsg
		h.render(w, http.StatusServiceUnavailable, "login", page)
		return
	}

	sess, err := h.auth.SignInWithPassword(r.Context(), form.Email, form.Password)
	if err != nil {
		h.logger.Info().Err(err).Msg("Password sign-in failed")
		page.Error = supabase.ErrorMessage(err)
		h.render(w, http.StatusUnauthorized, "login", page)
		return
	}
	if !h.persist(w, r, sess) {
		page.Error = "Could not start your session, please try again"
		h.render(w, http.StatusInternalServerError, "login", page)
		return
	}
	if sess.User != nil {
		h.analytics.Capture(sess.User.ID, "user_signed_in", map[string]interface{}{"method": "password"})
	}
	http.Redirect(w, r, middleware.DashboardPath, http.StatusSeeOther)
}

func (h *Handler) persist(w http.ResponseWriter, r *http.Request, sess *supabase.Session) bool {
	if err := h.store.Save(session.NewResponseJar(w, r), sess); err != nil {
		observability.CaptureErr(err)
		h.logger.Error().Err(err).Msg("Failed to persist session")
		return false
	}
	return true
}

func (h *Handler) signUpForm(p signUpPage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.render(w, http.StatusOK, "sign-up", formPage{
			Title:  p.title,
			Action: p.path,
			Role:   h.signUpRole(r, p),
			Error:  r.URL.Query().Get("error"),
		})
	}
}

// signUpRole is the route's role. The generic /sign-up page also honours the
// role chosen on /role-selection.
func (h *Handler) signUpRole(r *http.Request, p signUpPage) model.Role {
	if p.role != model.RoleStudent {
		return p.role
	}
	if c, err := r.Cookie(roleCookie); err == nil {
		if role := model.Role(c.Value); role.Valid() {
			return role
		}
	}
	return p.role
}

// signUp registers a user with the role metadata provisioning later reads.
func (h *Handler) signUp(p signUpPage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := h.signUpRole(r, p)
		page := formPage{Title: p.title, Action: p.path, Role: role}
		if err := r.ParseForm(); err != nil {
			page.Error = "Invalid form submission"
			h.render(w, http.StatusBadRequest, "sign-up", page)
			return
		}
		form := signUpForm{
			DisplayName:     strings.TrimSpace(r.PostForm.Get("display_name")),
			Email:           strings.TrimSpace(r.PostForm.Get("email")),
			Password:        r.PostForm.Get("password"),
			ConfirmPassword: r.PostForm.Get("confirm_password"),
			ProgramType:     r.PostForm.Get("program_type"),
		}
		schoolName := strings.TrimSpace(r.PostForm.Get("school_name"))
		page.Email, page.DisplayName, page.SchoolName, page.ProgramType = form.Email, form.DisplayName, schoolName, form.ProgramType

		if err := h.validate.Struct(form); err != nil {
			page.Error = validationMessage(err)
			h.render(w, http.StatusBadRequest, "sign-up", page)
			return
		}
		if role == model.RoleSchoolAdmin {
			if err := h.validate.Var(schoolName, "required,max=120"); err != nil {
				page.Error = "School name is required and must be at most 120 characters"
				h.render(w, http.StatusBadRequest, "sign-up", page)
				return
			}
		}
		if h.auth == nil {
			page.Error = authDisabledMsg
			h.render(w, http.StatusServiceUnavailable, "sign-up", page)
			return
		}

		data := map[string]any{"role": string(role)}
		if form.DisplayName != "" {
			data["full_name"] = form.DisplayName
		}
		if form.ProgramType != "" {
			data["program_type"] = form.ProgramType
		}
		if role == model.RoleSchoolAdmin {
			data["school_name"] = schoolName
		}

		// The confirmation email link lands on /auth/callback with a PKCE code.
		verifier, err := session.NewVerifier()
		if err != nil {
			observability.CaptureErr(err)
			page.Error = "Could not start sign-up, please try again"
			h.render(w, http.StatusInternalServerError, "sign-up", page)
			return
		}
		jar := session.NewResponseJar(w, r)
		h.store.SaveVerifier(jar, verifier)

		res, err := h.auth.SignUp(r.Context(), supabase.SignUpParams{
			Email:               form.Email,
			Password:            form.Password,
			Data:                data,
			RedirectTo:          h.siteURL + "/auth/callback",
			CodeChallenge:       session.Challenge(verifier),
			CodeChallengeMethod: "s256",
		})
		if err != nil {
			h.logger.Info().Err(err).Str("role", string(role)).Msg("Sign-up failed")
			page.Error = supabase.ErrorMessage(err)
			h.render(w, http.StatusBadRequest, "sign-up", page)
			return
		}

		jar.Delete(roleCookie)
		if res.User != nil {
			h.analytics.Capture(res.User.ID, "user_signed_up", map[string]interface{}{"role": string(role)})
		}
		if res.Session == nil {
			http.Redirect(w, r, "/login?message=Check+your+email", http.StatusSeeOther)
			return
		}
		if err := h.store.Save(jar, res.Session); err != nil {
			h.logger.Error().Err(err).Msg("Failed to persist session after sign-up")
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, middleware.DashboardPath, http.StatusSeeOther)
	}
}

func (h *Handler) RoleSelectionForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "role-selection", formPage{
		Title:  "How will you use SkyTrack?",
		Action: "/role-selection",
		Error:  r.URL.Query().Get("error"),
	})
}

// RoleSelection remembers the chosen role and forwards to its sign-up page.
func (h *Handler) RoleSelection(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/role-selection?error=Invalid+form+submission", http.StatusSeeOther)
		return
	}
	role := r.PostForm.Get("role")
	if err := h.validate.Var(role, "required,oneof=STUDENT CFI SCHOOL_ADMIN"); err != nil {
		http.Redirect(w, r, "/role-selection?error=Choose+a+role", http.StatusSeeOther)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     roleCookie,
		Value:    role,
		Path:     "/",
		MaxAge:   int(roleCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, signUpPathFor(model.Role(role)), http.StatusSeeOther)
}
