package service

import (
	"github.com/posthog/posthog-go"
	"github.com/rs/zerolog"
)

// Analytics records product events. Capture never blocks the caller on the
// network and never fails a request.
type Analytics interface {
	Capture(distinctID, event string, props map[string]interface{})
}

type eventEnqueuer interface {
	Enqueue(posthog.Message) error
}

type posthogAnalytics struct {
	client eventEnqueuer
	logger zerolog.Logger
}

func NewAnalytics(client eventEnqueuer, logger zerolog.Logger) Analytics {
	return &posthogAnalytics{client: client, logger: logger.With().Str("service", "Analytics").Logger()}
}

func (a *posthogAnalytics) Capture(distinctID, event string, props map[string]interface{}) {
	properties := posthog.NewProperties()
	for k, v := range props {
		properties.Set(k, v)
	}
	err := a.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: properties,
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("event", event).Msg("Failed to enqueue analytics event")
	}
}

type NoopAnalytics struct{}

func (NoopAnalytics) Capture(string, string, map[string]interface{}) {}
