package handler

import (
	"context"

	"skytrack/internal/middleware"
	"skytrack/internal/supabase"

	"github.com/danielgtaylor/huma/v2"
)

// getUserFromContext returns the user the session middleware resolved.
func getUserFromContext(ctx context.Context) (*supabase.User, error) {
	user := middleware.UserFromContext(ctx)
	if user == nil || user.ID == "" {
		return nil, huma.Error401Unauthorized("Not signed in")
	}
	return user, nil
}
