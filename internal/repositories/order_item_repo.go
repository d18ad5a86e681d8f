package repositories

import (
	"context"

	"excelimages/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock, so repositories
// work the same inside and outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type OrderItemRepository interface {
	ListSequenced(ctx context.Context) ([]*models.OrderItem, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.OrderItem, error)
	UpdateProductImages(ctx context.Context, id uuid.UUID, productImages []byte) error
}

type orderItemRepo struct {
	db DBTX
}

func NewOrderItemRepo(db DBTX) OrderItemRepository {
	return &orderItemRepo{db: db}
}

// ListSequenced returns every order item that has a sequence number, in sequence order.
func (r *orderItemRepo) ListSequenced(ctx context.Context) ([]*models.OrderItem, error) {
	query := `
		SELECT id, sequence_number, customer_name, product_images
		FROM order_items
		WHERE sequence_number IS NOT NULL
		ORDER BY sequence_number
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orderItems []*models.OrderItem
	for rows.Next() {
		orderItem := &models.OrderItem{}
		if err := rows.Scan(&orderItem.ID, &orderItem.SequenceNumber, &orderItem.CustomerName, &orderItem.ProductImages); err != nil {
			return nil, err
		}
		orderItems = append(orderItems, orderItem)
	}
	return orderItems, rows.Err()
}

func (r *orderItemRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.OrderItem, error) {
	orderItem := &models.OrderItem{}
	query := `
		SELECT id, sequence_number, customer_name, product_images, updated_at
		FROM order_items
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(&orderItem.ID, &orderItem.SequenceNumber, &orderItem.CustomerName, &orderItem.ProductImages, &orderItem.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return orderItem, nil
}

// UpdateProductImages replaces the product_images JSON and refreshes updated_at.
func (r *orderItemRepo) UpdateProductImages(ctx context.Context, id uuid.UUID, productImages []byte) error {
	query := `
		UPDATE order_items
		SET product_images = $1::jsonb, updated_at = NOW()
		WHERE id = $2
	`
	_, err := r.db.Exec(ctx, query, productImages, id)
	return err
}
