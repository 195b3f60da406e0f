package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"skytrack/internal/config"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// DocumentJob is the payload of an OCR job message and of the push request
// that delivers it back.
type DocumentJob struct {
	DocumentID string `json:"document_id"`
}

// Publisher publishes raw payloads to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// PubSubPublisher is a Publisher on Google Pub/Sub.
type PubSubPublisher struct {
	client *pubsub.Client
}

// NewPublisher connects to the project in cfg, or to the local emulator when
// PUBSUB_EMULATOR_HOST is set.
func NewPublisher(ctx context.Context, cfg *config.Config) (*PubSubPublisher, error) {
	if cfg.GCPProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID is not set")
	}
	var opts []option.ClientOption
	if cfg.PubSubEmulatorHost != "" {
		opts = append(opts, option.WithEndpoint(cfg.PubSubEmulatorHost), option.WithoutAuthentication())
	}
	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create Pub/Sub client: %w", err)
	}
	return &PubSubPublisher{client: client}, nil
}

// Publish sends payload to topic and waits for the server-assigned id.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	result := p.client.Topic(topic).Publish(ctx, &pubsub.Message{Data: payload})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to topic %s: %w", topic, err)
	}
	return id, nil
}

func (p *PubSubPublisher) Close() error {
	return p.client.Close()
}

// PublishDocumentJob encodes job and publishes it to topic.
func PublishDocumentJob(ctx context.Context, pub Publisher, topic string, job DocumentJob) (string, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode document job: %w", err)
	}
	return pub.Publish(ctx, topic, data)
}

// PushMessage is the message inside a push request.
type PushMessage struct {
	Data        []byte            `json:"data"`
	MessageID   string            `json:"messageId"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime string            `json:"publishTime,omitempty"`
}

// PushEnvelope is the body Pub/Sub POSTs to a push subscription endpoint.
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// DocumentJob extracts the job carried by the envelope.
func (e *PushEnvelope) DocumentJob() (DocumentJob, error) {
	var job DocumentJob
	if err := json.Unmarshal(e.Message.Data, &job); err != nil {
		return DocumentJob{}, fmt.Errorf("decode document job: %w", err)
	}
	if job.DocumentID == "" {
		return DocumentJob{}, errors.New("document job has no document_id")
	}
	return job, nil
}

// DecodeDocumentJob parses a raw push body.
func DecodeDocumentJob(body []byte) (DocumentJob, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return DocumentJob{}, fmt.Errorf("decode push envelope: %w", err)
	}
	return env.DocumentJob()
}
