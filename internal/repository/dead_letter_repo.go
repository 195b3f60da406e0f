package repository

import (
	"context"
	"fmt"

	"skytrack/internal/model"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DeadLetterRepository interface {
	// Create stores job and reports whether it was new. Redelivered message
	// IDs are ignored.
	Create(ctx context.Context, job *model.DeadLetterJob) (bool, error)
}

type deadLetterRepo struct {
	pool *pgxpool.Pool
}

func NewDeadLetterRepo(pool *pgxpool.Pool) DeadLetterRepository {
	return &deadLetterRepo{pool: pool}
}

func (r *deadLetterRepo) Create(ctx context.Context, job *model.DeadLetterJob) (bool, error) {
	const q = `
        INSERT INTO dead_letter_jobs (subscription_name, message_id, document_id, payload, attributes, delivery_attempts)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (message_id) DO NOTHING`
	var attrs any
	if len(job.Attributes) > 0 {
		attrs = job.Attributes
	}
	tag, err := r.pool.Exec(ctx, q,
		job.SubscriptionName,
		job.MessageID,
		job.DocumentID,
		job.Payload,
		attrs,
		job.DeliveryAttempts,
	)
	if err != nil {
		return false, fmt.Errorf("creating dead letter job for subscription %s: %w", job.SubscriptionName, err)
	}
	return tag.RowsAffected() == 1, nil
}
