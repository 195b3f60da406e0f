package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"skytrack/internal/config"
	"skytrack/internal/logger"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// The emulator runs in Docker; host.docker.internal reaches the app on the host.
const (
	pushEndpointLocal       = "http://host.docker.internal:8080/api/v1/documents/process"
	deadLetterEndpointLocal = "http://host.docker.internal:8080/api/v1/documents/dead-letter"
)

const (
	retention   = 7 * 24 * time.Hour
	ackDeadline = 120 * time.Second
)

func main() {
	reset := flag.Bool("reset", false, "delete every topic and subscription on the emulator first")
	endpoint := flag.String("endpoint", pushEndpointLocal, "push endpoint for the OCR subscription")
	dlqEndpoint := flag.String("dlq-endpoint", deadLetterEndpointLocal, "push endpoint for the dead-letter subscription")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, relying on system environment variables.")
	}
	logger := logger.New()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Failed to load config: %v", err)
	}
	if cfg.GCPProjectID == "" {
		logger.Fatal().Msg("GCP_PROJECT_ID is not set in the environment.")
	}
	if cfg.PubSubEmulatorHost == "" {
		logger.Fatal().Msg("PUBSUB_EMULATOR_HOST must be set; this tool only targets the emulator.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID,
		option.WithEndpoint(cfg.PubSubEmulatorHost),
		option.WithoutAuthentication(),
	)
	if err != nil {
		logger.Fatal().Msgf("Failed to create Pub/Sub client: %v", err)
	}
	defer func() { _ = client.Close() }()

	if *reset {
		if err := resetEmulator(ctx, client, logger); err != nil {
			logger.Fatal().Err(err).Msg("Reset failed")
		}
	}
	if err := ensureDocumentPipeline(ctx, client, cfg.PubSubDocumentTopic, *endpoint, *dlqEndpoint, logger); err != nil {
		logger.Fatal().Err(err).Msg("Setup failed")
	}
	logger.Info().Str("topic", cfg.PubSubDocumentTopic).Str("endpoint", *endpoint).Msg("Pub/Sub emulator ready")
}

func resetEmulator(ctx context.Context, client *pubsub.Client, logger zerolog.Logger) error {
	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return err
		}
		if err := sub.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("subscription", sub.ID()).Msg("Failed to delete subscription")
		}
	}
	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return err
		}
		if err := topic.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("topic", topic.ID()).Msg("Failed to delete topic")
		}
	}
	return nil
}

// ensureDocumentPipeline creates the OCR topic, its dead-letter topic and a
// push subscription to the app for each.
func ensureDocumentPipeline(ctx context.Context, client *pubsub.Client, topicID, endpoint, dlqEndpoint string, logger zerolog.Logger) error {
	dlq, err := ensureTopic(ctx, client, topicID+"-dlq", logger)
	if err != nil {
		return err
	}
	jobs, err := ensureTopic(ctx, client, topicID, logger)
	if err != nil {
		return err
	}
	retry := &pubsub.RetryPolicy{MinimumBackoff: 10 * time.Second, MaximumBackoff: 600 * time.Second}

	if err := ensureSubscription(ctx, client, topicID+"-sub", pubsub.SubscriptionConfig{
		Topic:       jobs,
		PushConfig:  pubsub.PushConfig{Endpoint: endpoint},
		AckDeadline: ackDeadline,
		RetryPolicy: retry,
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     dlq.String(),
			MaxDeliveryAttempts: 5,
		},
	}, logger); err != nil {
		return err
	}
	return ensureSubscription(ctx, client, topicID+"-dlq-sub", pubsub.SubscriptionConfig{
		Topic:       dlq,
		PushConfig:  pubsub.PushConfig{Endpoint: dlqEndpoint},
		AckDeadline: ackDeadline,
		RetryPolicy: retry,
	}, logger)
}

func ensureTopic(ctx context.Context, client *pubsub.Client, id string, logger zerolog.Logger) (*pubsub.Topic, error) {
	topic := client.Topic(id)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Info().Str("topic", id).Msg("Topic exists")
		return topic, nil
	}
	logger.Info().Str("topic", id).Msg("Creating topic")
	return client.CreateTopicWithConfig(ctx, id, &pubsub.TopicConfig{RetentionDuration: retention})
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, id string, want pubsub.SubscriptionConfig, logger zerolog.Logger) error {
	sub := client.Subscription(id)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		logger.Info().Str("subscription", id).Str("endpoint", want.PushConfig.Endpoint).Msg("Creating subscription")
		_, err := client.CreateSubscription(ctx, id, want)
		return err
	}

	have, err := sub.Config(ctx)
	if err != nil {
		return err
	}
	if have.PushConfig.Endpoint == want.PushConfig.Endpoint && have.AckDeadline == want.AckDeadline {
		logger.Info().Str("subscription", id).Msg("Subscription up to date")
		return nil
	}
	logger.Info().Str("subscription", id).Msg("Updating subscription")
	_, err = sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
		PushConfig:  &want.PushConfig,
		AckDeadline: want.AckDeadline,
		RetryPolicy: want.RetryPolicy,
	})
	return err
}
