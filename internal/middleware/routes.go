package middleware

import (
	"strings"
)

// RouteClass is the access-control class of a request path.
type RouteClass string

const (
	RouteProtected RouteClass = "protected"
	RouteAuthOnly  RouteClass = "auth-only"
	RoutePublic    RouteClass = "public"
)

const (
	LoginPath     = "/login"
	DashboardPath = "/dashboard"
)

var authOnlyPrefixes = []string{"/cfi-sign-up", "/school-sign-up", "/role-selection"}

// Classify maps a path onto its route class.
func Classify(path string) RouteClass {
	if strings.HasPrefix(path, DashboardPath) {
		return RouteProtected
	}
	if path == LoginPath || path == "/sign-up" {
		return RouteAuthOnly
	}
	for _, p := range authOnlyPrefixes {
		if strings.HasPrefix(path, p) {
			return RouteAuthOnly
		}
	}
	return RoutePublic
}

// Decide returns the redirect target for a request, or "" to pass through.
func Decide(class RouteClass, authenticated bool) string {
	switch {
	case class == RouteProtected && !authenticated:
		return LoginPath
	case class == RouteAuthOnly && authenticated:
		return DashboardPath
	}
	return ""
}

var excludedPrefixes = []string{"/_next/static", "/_next/image", "/favicon.ico", "/auth/auth-code-error", "/static/"}

var excludedExtensions = []string{".svg", ".png", ".jpg", ".jpeg", ".gif", ".webp"}

// Excluded reports whether the session pipeline skips path entirely.
// Protected paths are never excluded.
func Excluded(path string) bool {
	if Classify(path) == RouteProtected {
		return false
	}
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	lower := strings.ToLower(path)
	for _, ext := range excludedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
