package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokapasar/lokapasar/internal/models"
)

// ErrActiveAttemptExists is returned when a new payment attempt is created
// while a prior attempt for the same order is still non-terminal.
var ErrActiveAttemptExists = errors.New("order already has an active payment attempt")

type PaymentAttemptStore struct {
	pool *pgxpool.Pool
}

func NewPaymentAttemptStore(pool *pgxpool.Pool) *PaymentAttemptStore {
	return &PaymentAttemptStore{pool: pool}
}

// Create inserts the attempt only when no non-terminal attempt exists for the
// order. A partial unique index on (order_id) WHERE status = 'pending' backs
// this guard against concurrent inserts.
func (s *PaymentAttemptStore) Create(ctx context.Context, attempt *PaymentAttempt) error {
	instructionJSON, err := json.Marshal(attempt.Instruction)
	if err != nil {
		return fmt.Errorf("failed to encode payment instruction: %w", err)
	}

	cmdTag, err := s.pool.Exec(ctx, `
		INSERT INTO payment_attempts (id, order_id, gateway_ref, instruction, status)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM payment_attempts WHERE order_id = $2 AND status = 'pending'
		)
	`, attempt.ID, attempt.OrderID, attempt.GatewayRef, instructionJSON, attempt.Status)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrActiveAttemptExists
	}
	return nil
}

// GetByGatewayRef returns the attempt holding the gateway's transaction
// reference, or nil when none exists. A charge can succeed at the gateway
// while the response was lost before the attempt row was written, so callers
// must tolerate the nil case.
func (s *PaymentAttemptStore) GetByGatewayRef(ctx context.Context, gatewayRef string) (*PaymentAttempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, order_id, gateway_ref, instruction, status, created_at, updated_at
		FROM payment_attempts WHERE gateway_ref = $1
	`, gatewayRef)
	return scanAttempt(row)
}

// GetLatestByOrder returns the most recent attempt for the order, or nil when
// the order has none.
func (s *PaymentAttemptStore) GetLatestByOrder(ctx context.Context, orderID uuid.UUID) (*PaymentAttempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, order_id, gateway_ref, instruction, status, created_at, updated_at
		FROM payment_attempts WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, orderID)
	return scanAttempt(row)
}

// Resolve moves a pending attempt to a terminal status. Resolving an already
// terminal attempt is a no-op; reconciliation treats that as redundant.
func (s *PaymentAttemptStore) Resolve(ctx context.Context, attemptID uuid.UUID, status models.AttemptStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("attempt resolution requires a terminal status, got %q", status)
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE payment_attempts
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`, status, attemptID)
	return err
}

func scanAttempt(row pgx.Row) (*PaymentAttempt, error) {
	var (
		attempt         PaymentAttempt
		instructionJSON []byte
	)
	err := row.Scan(
		&attempt.ID,
		&attempt.OrderID,
		&attempt.GatewayRef,
		&instructionJSON,
		&attempt.Status,
		&attempt.CreatedAt,
		&attempt.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if instructionJSON != nil {
		if err := json.Unmarshal(instructionJSON, &attempt.Instruction); err != nil {
			return nil, err
		}
	}
	return &attempt, nil
}
