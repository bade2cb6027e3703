package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrProductNotAvailable marks a product that is missing, unpublished, or
	// soft-deleted.
	ErrProductNotAvailable = errors.New("product not available")
	// ErrInsufficientStock marks a conditional stock decrement that would go
	// negative.
	ErrInsufficientStock = errors.New("insufficient stock")
)

type ProductStore struct {
	pool *pgxpool.Pool
}

func NewProductStore(pool *pgxpool.Pool) *ProductStore {
	return &ProductStore{pool: pool}
}

func (s *ProductStore) GetByID(ctx context.Context, productID uuid.UUID) (*Product, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, price, stock, published, deleted_at
		FROM products WHERE id = $1
	`, productID)

	var (
		product   Product
		deletedAt pgtype.Timestamptz
	)
	if err := row.Scan(&product.ID, &product.Name, &product.Price, &product.Stock, &product.Published, &deletedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		product.DeletedAt = deletedAt.Time
	}
	return &product, nil
}

// GetPurchasable loads a product for checkout and rejects anything a buyer may
// not order.
func (s *ProductStore) GetPurchasable(ctx context.Context, productID uuid.UUID) (*Product, error) {
	product, err := s.GetByID(ctx, productID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProductNotAvailable, productID)
	}
	if err != nil {
		return nil, err
	}
	if !product.Purchasable() {
		return nil, fmt.Errorf("%w: %s", ErrProductNotAvailable, productID)
	}
	return product, nil
}

// decrementStock performs the row-level conditional decrement that serializes
// concurrent checkouts for the same product. Zero rows affected means the
// product vanished or the remaining stock is short; the caller aborts.
func decrementStock(ctx context.Context, tx pgx.Tx, productID uuid.UUID, quantity int) error {
	cmdTag, err := tx.Exec(ctx, `
		UPDATE products
		SET stock = stock - $1
		WHERE id = $2 AND published AND deleted_at IS NULL AND stock >= $1
	`, quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if cmdTag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM products WHERE id = $1 AND published AND deleted_at IS NULL)
	`, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrProductNotAvailable, productID)
	}
	return fmt.Errorf("%w: product %s, wanted %d", ErrInsufficientStock, productID, quantity)
}
