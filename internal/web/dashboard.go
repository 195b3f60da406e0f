package web

import (
	"errors"
	"net/http"

	"skytrack/internal/middleware"
	"skytrack/internal/model"
	"skytrack/internal/service"
	"skytrack/internal/supabase"
)

const (
	distinctIDCookie = "ph_distinct_id"

	flagDocumentOCR   = "document-ocr"
	flagSchoolBilling = "school-billing"

	// fallbackGreeting is shown when the profile could not be loaded or created.
	fallbackGreeting = "Welcome, pilot"
)

var dashboardPaths = map[model.Role]string{
	model.RoleStudent:     "/dashboard/student",
	model.RoleCFI:         "/dashboard/cfi",
	model.RoleSchoolAdmin: "/dashboard/school",
}

type dashboardPage struct {
	Title            string
	Role             model.Role
	Greeting         string
	Profile          *model.Profile
	SchoolName       string
	DocumentsEnabled bool
	BillingEnabled   bool
}

func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request) *supabase.User {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		http.Redirect(w, r, middleware.LoginPath, http.StatusTemporaryRedirect)
	}
	return user
}

// Dashboard sends the user to the dashboard of their role. It reads the
// profile but never creates one; without a profile the sign-up metadata
// decides, then STUDENT.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user := h.currentUser(w, r)
	if user == nil {
		return
	}

	role := model.Role(user.Metadata("role"))
	p, err := h.profiles.Get(r.Context(), user.ID)
	switch {
	case err == nil:
		role = p.Role
	case !errors.Is(err, service.ErrProfileNotFound):
		h.logger.Warn().Err(err).Str("user_id", user.ID).Msg("Failed to read profile for dashboard routing")
	}
	if !role.Valid() {
		role = model.RoleStudent
	}
	http.Redirect(w, r, dashboardPaths[role], http.StatusTemporaryRedirect)
}

// roleDashboard renders the dashboard for role, provisioning the profile (and
// the school for admins) on first visit. Provisioning failures render the page
// with placeholder identity.
func (h *Handler) roleDashboard(role model.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user := h.currentUser(w, r)
		if user == nil {
			return
		}

		// Failures are logged and reported by the provisioning service.
		profile, _ := h.provisioning.EnsureProfile(ctx, user, role)
		if profile != nil && profile.Role != role {
			http.Redirect(w, r, middleware.DashboardPath, http.StatusTemporaryRedirect)
			return
		}

		page := dashboardPage{
			Title:    dashboardTitle(role),
			Role:     role,
			Greeting: fallbackGreeting,
			Profile:  profile,
		}
		if profile != nil {
			page.Greeting = "Welcome, " + profile.Name()
		}

		distinctID := user.ID
		if c, err := r.Cookie(distinctIDCookie); err == nil && c.Value != "" {
			distinctID = c.Value
		}
		page.DocumentsEnabled = h.flags.IsEnabled(ctx, flagDocumentOCR, distinctID)

		if role == model.RoleSchoolAdmin {
			page.SchoolName = h.schoolName(r, user, profile)
			page.BillingEnabled = h.flags.IsEnabled(ctx, flagSchoolBilling, distinctID)
		}
		h.render(w, http.StatusOK, "dashboard", page)
	}
}

// schoolName returns the admin's school name, falling back to what sign-up
// would have named it when the school cannot be provisioned.
func (h *Handler) schoolName(r *http.Request, user *supabase.User, admin *model.Profile) string {
	if admin != nil {
		school, err := h.provisioning.EnsureSchool(r.Context(), user, admin)
		if err == nil {
			return school.Name
		}
	}
	if name := user.Metadata("school_name"); name != "" {
		return name
	}
	return model.DefaultSchoolName
}

func dashboardTitle(role model.Role) string {
	switch role {
	case model.RoleCFI:
		return "Instructor dashboard"
	case model.RoleSchoolAdmin:
		return "School dashboard"
	}
	return "Student dashboard"
}
