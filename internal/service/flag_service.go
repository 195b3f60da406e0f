package service

import (
	"context"
	"fmt"
	"time"

	"github.com/posthog/posthog-go"
	"github.com/rs/zerolog"
)

// AnonymousDistinctID is used for flag checks when neither a PostHog cookie
// nor a signed-in user is available.
const AnonymousDistinctID = "anonymous"

type FlagService interface {
	// IsEnabled reports whether flag key is on for distinctID. Lookup errors
	// are logged and read as off.
	IsEnabled(ctx context.Context, key, distinctID string) bool
}

// flagEvaluator is the part of posthog.Client used for flags.
type flagEvaluator interface {
	IsFeatureEnabled(posthog.FeatureFlagPayload) (interface{}, error)
}

type posthogFlags struct {
	client flagEvaluator
	logger zerolog.Logger
}

func NewFlagService(client flagEvaluator, logger zerolog.Logger) FlagService {
	return &posthogFlags{client: client, logger: logger.With().Str("service", "FlagService").Logger()}
}

func (f *posthogFlags) IsEnabled(ctx context.Context, key, distinctID string) bool {
	if distinctID == "" {
		distinctID = AnonymousDistinctID
	}
	type result struct {
		v   interface{}
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := f.client.IsFeatureEnabled(posthog.FeatureFlagPayload{Key: key, DistinctId: distinctID})
		done <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		f.logger.Warn().Err(ctx.Err()).Str("flag", key).Msg("Feature flag lookup abandoned")
		return false
	case r := <-done:
		if r.err != nil {
			f.logger.Warn().Err(r.err).Str("flag", key).Msg("Feature flag lookup failed")
			return false
		}
		return flagValueEnabled(r.v)
	}
}

// flagValueEnabled treats true and any non-empty multivariate variant as on.
func flagValueEnabled(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	}
	return false
}

// NoopFlags reports every flag as off.
type NoopFlags struct{}

func (NoopFlags) IsEnabled(context.Context, string, string) bool { return false }

// NewPostHogClient builds the shared PostHog client. Returns nil without a key.
func NewPostHogClient(apiKey, host string, logger zerolog.Logger) (posthog.Client, error) {
	if apiKey == "" {
		return nil, nil
	}
	client, err := posthog.NewWithConfig(apiKey, posthog.Config{
		Endpoint:                  host,
		Interval:                  5 * time.Second,
		BatchSize:                 100,
		FeatureFlagRequestTimeout: 2 * time.Second,
		Logger:                    posthogLogger{logger.With().Str("component", "posthog").Logger()},
	})
	if err != nil {
		return nil, fmt.Errorf("create posthog client: %w", err)
	}
	return client, nil
}

// posthogLogger routes the client's internal logs through zerolog.
type posthogLogger struct {
	logger zerolog.Logger
}

func (l posthogLogger) Logf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}

func (l posthogLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error().Msgf(format, args...)
}
