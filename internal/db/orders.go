package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrInvalidStatusTransition is returned when a conditional status update
// matches no row: the order is missing or already past the expected state.
var ErrInvalidStatusTransition = errors.New("invalid order status transition")

// ErrOrderNotFound is returned when a lookup references no known order.
var ErrOrderNotFound = errors.New("order not found")

type OrderStore struct {
	pool *pgxpool.Pool
}

func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// CreateCheckout persists the order, its line items, and the per-product stock
// decrements in one transaction. Any item failing the conditional decrement
// aborts the whole checkout.
func (s *OrderStore) CreateCheckout(ctx context.Context, order *Order) error {
	if order == nil || len(order.Items) == 0 {
		return fmt.Errorf("order with items is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin checkout transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, item := range order.Items {
		if err := decrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	addressJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO orders (id, buyer_id, total_amount, payment_method, payment_status, fulfillment_status, shipping_address)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, order.ID, order.BuyerID, order.TotalAmount, order.PaymentMethod, order.PaymentStatus, order.FulfillmentStatus, addressJSON)
	if err := row.Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range order.Items {
		_, err := tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
		`, order.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit checkout transaction: %w", err)
	}
	return nil
}

func (s *OrderStore) GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, buyer_id, total_amount, payment_method, payment_status, fulfillment_status,
		       shipping_address, courier, tracking_number, created_at, updated_at, paid_at, shipped_at, delivered_at
		FROM orders WHERE id = $1
	`, orderID)

	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := s.itemsByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

// MarkPaid flips payment status to paid only while the order is still pending.
// Concurrent writers race on this single conditional update; losers get
// ErrInvalidStatusTransition and must discard their write.
func (s *OrderStore) MarkPaid(ctx context.Context, orderID uuid.UUID) error {
	cmdTag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET payment_status = $1, paid_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND payment_status = 'pending'
	`, PaymentPaid, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending", ErrInvalidStatusTransition)
	}
	return nil
}

// MarkFailedAndRestock flips payment status to failed and restores the stock
// reserved at checkout in the same transaction, so the restore happens exactly
// once no matter how many writers attempt the failure transition.
func (s *OrderStore) MarkFailedAndRestock(ctx context.Context, orderID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin restock transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cmdTag, err := tx.Exec(ctx, `
		UPDATE orders
		SET payment_status = $1, updated_at = NOW()
		WHERE id = $2 AND payment_status = 'pending'
	`, PaymentFailed, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected pending", ErrInvalidStatusTransition)
	}

	_, err = tx.Exec(ctx, `
		UPDATE products p
		SET stock = p.stock + i.quantity
		FROM order_items i
		WHERE i.order_id = $1 AND i.product_id = p.id
	`, orderID)
	if err != nil {
		return fmt.Errorf("failed to restore stock: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit restock transaction: %w", err)
	}
	return nil
}

// MarkShipped enters the shipped state. Requires a paid order that has not
// shipped yet; packed may be bypassed.
func (s *OrderStore) MarkShipped(ctx context.Context, orderID uuid.UUID, courier, trackingNumber string) error {
	cmdTag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET fulfillment_status = $1, courier = $2, tracking_number = $3, shipped_at = NOW(), updated_at = NOW()
		WHERE id = $4 AND payment_status = 'paid' AND fulfillment_status IN ('processed', 'packed')
	`, FulfillmentShipped, courier, trackingNumber, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected paid order in processed/packed", ErrInvalidStatusTransition)
	}
	return nil
}

// UpdateShipmentDetails replaces courier and tracking number while the order
// stays shipped. This is the tracking-correction path, not a state transition.
func (s *OrderStore) UpdateShipmentDetails(ctx context.Context, orderID uuid.UUID, courier, trackingNumber string) error {
	cmdTag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET courier = $1, tracking_number = $2, updated_at = NOW()
		WHERE id = $3 AND fulfillment_status = 'shipped'
	`, courier, trackingNumber, orderID)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected shipped", ErrInvalidStatusTransition)
	}
	return nil
}

// AdvanceFulfillment moves the shipment state machine one step forward. The
// update is conditional on the expected predecessor, which keeps concurrent
// carrier events from rewinding or skipping states.
func (s *OrderStore) AdvanceFulfillment(ctx context.Context, orderID uuid.UUID, next FulfillmentState, expected ...FulfillmentState) error {
	if len(expected) == 0 {
		return fmt.Errorf("expected predecessor states are required")
	}
	from := make([]string, len(expected))
	for i, state := range expected {
		from[i] = string(state)
	}

	query := `
		UPDATE orders
		SET fulfillment_status = $1, updated_at = NOW()
	`
	if next == FulfillmentDelivered {
		query += `, delivered_at = NOW()`
	}
	query += ` WHERE id = $2 AND fulfillment_status = ANY($3)`

	cmdTag, err := s.pool.Exec(ctx, query, next, orderID, from)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: expected one of %v", ErrInvalidStatusTransition, expected)
	}
	return nil
}

// FindStalePending lists orders that have sat in pending payment longer than
// the cutoff. The reconciliation sweeper polls these against the gateway.
func (s *OrderStore) FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM orders
		WHERE payment_status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *OrderStore) itemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT product_id, product_name, quantity, unit_price
		FROM order_items WHERE order_id = $1
		ORDER BY product_name
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		order          Order
		addressJSON    []byte
		courier        pgtype.Text
		trackingNumber pgtype.Text
		paidAt         pgtype.Timestamptz
		shippedAt      pgtype.Timestamptz
		deliveredAt    pgtype.Timestamptz
	)
	err := row.Scan(
		&order.ID,
		&order.BuyerID,
		&order.TotalAmount,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.FulfillmentStatus,
		&addressJSON,
		&courier,
		&trackingNumber,
		&order.CreatedAt,
		&order.UpdatedAt,
		&paidAt,
		&shippedAt,
		&deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	if courier.Valid {
		order.Courier = courier.String
	}
	if trackingNumber.Valid {
		order.TrackingNumber = trackingNumber.String
	}
	if paidAt.Valid {
		order.PaidAt = paidAt.Time
	}
	if shippedAt.Valid {
		order.ShippedAt = shippedAt.Time
	}
	if deliveredAt.Valid {
		order.DeliveredAt = deliveredAt.Time
	}
	if addressJSON != nil {
		if err := json.Unmarshal(addressJSON, &order.ShippingAddress); err != nil {
			return nil, err
		}
	}
	return &order, nil
}
