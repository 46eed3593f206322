package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrAlreadyProcessed is returned when a dead letter was already retried or discarded.
var ErrAlreadyProcessed = errors.New("dead letter already processed")

const messageColumns = `
	id, batch_tag, channel, sender, recipient, subject, body,
	status, attempt, error_message, next_retry_at,
	created_at, updated_at
`

const deadLetterColumns = `
	id, original_message_id, batch_tag, channel, sender, recipient,
	subject, body, attempts, last_error, status, retried_message_id,
	created_at, updated_at
`

// CreateMessages inserts a batch of outbound messages in one transaction.
func (r *Repository) CreateMessages(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	query := `
		INSERT INTO messages (
			id, batch_tag, channel, sender, recipient,
			subject, body, status, attempt, next_retry_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.Status == "" {
			m.Status = StatusQueued
		}
		batch.Queue(query,
			m.ID, m.BatchTag, m.Channel, m.Sender, m.To,
			m.Subject, m.Body, m.Status, m.Attempt, m.NextRetryAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for _, m := range msgs {
		if err := results.QueryRow().Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
			_ = results.Close()
			r.logger.Error("failed to create message",
				zap.Error(err),
				zap.String("batch_tag", m.BatchTag),
			)
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Debug("messages created",
		zap.String("batch_tag", msgs[0].BatchTag),
		zap.Int("count", len(msgs)),
	)

	return nil
}

// GetMessage retrieves a message by ID
func (r *Repository) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	m, err := scanMessage(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	return m, nil
}

// CountMessagesByBatch counts messages tagged with the given batch.
func (r *Repository) CountMessagesByBatch(ctx context.Context, batchTag string) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE batch_tag = $1`, batchTag,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// ProcessingLease is how long a claimed message may stay in processing
// before the poller treats its worker as gone and claims it again.
const ProcessingLease = 5 * time.Minute

// claimable matches queued messages that are due and processing messages
// whose lease ran out. $2 is the lease in seconds.
const claimable = `(
		(status = 'queued' AND (next_retry_at IS NULL OR next_retry_at <= NOW()))
		OR (status = 'processing' AND updated_at < NOW() - $2::int * INTERVAL '1 second')
	)`

func leaseSeconds() int {
	return int(ProcessingLease / time.Second)
}

// GetPendingMessages returns messages that are due for delivery, including
// ones abandoned in processing past their lease.
func (r *Repository) GetPendingMessages(ctx context.Context, limit int) ([]*Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE ` + claimable + `
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit, leaseSeconds())
	if err != nil {
		return nil, fmt.Errorf("query pending messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return msgs, nil
}

// ClaimMessage atomically moves a due message to processing, taking over
// an expired lease if needed. It reports false when another consumer got
// there first.
func (r *Repository) ClaimMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE messages
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND `+claimable, id, leaseSeconds())
	if err != nil {
		return false, fmt.Errorf("claim message: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// UpdateMessageStatus records the outcome of a delivery attempt
func (r *Repository) UpdateMessageStatus(
	ctx context.Context,
	id uuid.UUID,
	status string,
	attempt int,
	errorMsg *string,
	nextRetryAt *time.Time,
) error {
	query := `
		UPDATE messages
		SET status = $1, attempt = $2, error_message = $3, next_retry_at = $4, updated_at = NOW()
		WHERE id = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, status, attempt, errorMsg, nextRetryAt, id)
	if err != nil {
		r.logger.Error("failed to update message status",
			zap.Error(err),
			zap.String("message_id", id.String()),
		)
		return fmt.Errorf("update message status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", id, ErrNotFound)
	}

	return nil
}

// MoveToDeadLetter parks a message that exhausted its retries.
func (r *Repository) MoveToDeadLetter(ctx context.Context, m *Message, lastError string) (*DeadLetterMessage, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	dl := &DeadLetterMessage{
		ID:                uuid.New(),
		OriginalMessageID: m.ID,
		BatchTag:          m.BatchTag,
		Channel:           m.Channel,
		Sender:            m.Sender,
		To:                m.To,
		Subject:           m.Subject,
		Body:              m.Body,
		Attempts:          m.Attempt,
		LastError:         lastError,
		Status:            DLQStatusPending,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO dead_letter_messages (
			id, original_message_id, batch_tag, channel, sender, recipient,
			subject, body, attempts, last_error, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`,
		dl.ID, dl.OriginalMessageID, dl.BatchTag, dl.Channel, dl.Sender, dl.To,
		dl.Subject, dl.Body, dl.Attempts, dl.LastError, dl.Status,
	).Scan(&dl.CreatedAt, &dl.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert dead letter: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE messages SET status = $1, attempt = $2, error_message = $3, updated_at = NOW() WHERE id = $4`,
		StatusDeadLettered, m.Attempt, lastError, m.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update message status: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("message moved to dead letter queue",
		zap.String("message_id", m.ID.String()),
		zap.String("dlq_id", dl.ID.String()),
		zap.String("batch_tag", m.BatchTag),
		zap.String("last_error", lastError),
	)

	return dl, nil
}

// ListDeadLetters lists parked messages, optionally narrowed to one batch.
func (r *Repository) ListDeadLetters(ctx context.Context, batchTag string, limit, offset int) ([]*DeadLetterMessage, error) {
	query := `
		SELECT ` + deadLetterColumns + `
		FROM dead_letter_messages
		WHERE ($1::text = '' OR batch_tag = $1::text)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, batchTag, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	items := []*DeadLetterMessage{}
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		items = append(items, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return items, nil
}

// GetDeadLetter retrieves a single DLQ item by ID
func (r *Repository) GetDeadLetter(ctx context.Context, id uuid.UUID) (*DeadLetterMessage, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM dead_letter_messages WHERE id = $1`

	dl, err := scanDeadLetter(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("dead letter %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query dead letter: %w", err)
	}
	return dl, nil
}

// RetryDeadLetter requeues a parked message as a fresh message and marks the
// DLQ item retried.
func (r *Repository) RetryDeadLetter(ctx context.Context, id uuid.UUID) (*Message, error) {
	dl, err := r.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}
	if dl.Status != DLQStatusPending {
		return nil, fmt.Errorf("dead letter %s is %s: %w", id, dl.Status, ErrAlreadyProcessed)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	m := &Message{
		ID:       uuid.New(),
		BatchTag: dl.BatchTag,
		Channel:  dl.Channel,
		Sender:   dl.Sender,
		To:       dl.To,
		Subject:  dl.Subject,
		Body:     dl.Body,
		Status:   StatusQueued,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (
			id, batch_tag, channel, sender, recipient, subject, body, status, attempt
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0)
		RETURNING created_at, updated_at
	`,
		m.ID, m.BatchTag, m.Channel, m.Sender, m.To, m.Subject, m.Body, m.Status,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert retry message: %w", err)
	}

	result, err := tx.Exec(ctx, `
		UPDATE dead_letter_messages
		SET status = $1, retried_message_id = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, DLQStatusRetried, m.ID, id, DLQStatusPending)
	if err != nil {
		return nil, fmt.Errorf("update dead letter: %w", err)
	}
	if result.RowsAffected() == 0 {
		return nil, fmt.Errorf("dead letter %s: %w", id, ErrAlreadyProcessed)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	r.logger.Info("dead letter retried",
		zap.String("dlq_id", id.String()),
		zap.String("new_message_id", m.ID.String()),
	)

	return m, nil
}

// DiscardDeadLetter marks a DLQ item as discarded (won't be retried)
func (r *Repository) DiscardDeadLetter(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx, `
		UPDATE dead_letter_messages
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, DLQStatusDiscarded, id, DLQStatusPending)
	if err != nil {
		return fmt.Errorf("discard dead letter: %w", err)
	}

	if result.RowsAffected() == 0 {
		if _, err := r.GetDeadLetter(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("dead letter %s: %w", id, ErrAlreadyProcessed)
	}

	r.logger.Info("dead letter discarded", zap.String("dlq_id", id.String()))

	return nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	err := row.Scan(
		&m.ID,
		&m.BatchTag,
		&m.Channel,
		&m.Sender,
		&m.To,
		&m.Subject,
		&m.Body,
		&m.Status,
		&m.Attempt,
		&m.ErrorMessage,
		&m.NextRetryAt,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanDeadLetter(row rowScanner) (*DeadLetterMessage, error) {
	var dl DeadLetterMessage
	err := row.Scan(
		&dl.ID,
		&dl.OriginalMessageID,
		&dl.BatchTag,
		&dl.Channel,
		&dl.Sender,
		&dl.To,
		&dl.Subject,
		&dl.Body,
		&dl.Attempts,
		&dl.LastError,
		&dl.Status,
		&dl.RetriedMessageID,
		&dl.CreatedAt,
		&dl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &dl, nil
}
