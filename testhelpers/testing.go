package testhelpers

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TestDB holds the database connection for testing
type TestDB struct {
	Pool    *pgxpool.Pool
	Cleanup func() error
}

// SetupTestDB connects to TEST_DATABASE_URL, or skips the test when it is unset.
// The pool is closed when the test ends.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("Failed to ping test database: %v", err)
	}
	t.Cleanup(pool.Close)

	return &TestDB{
		Pool: pool,
		Cleanup: func() error {
			pool.Close()
			return nil
		},
	}
}

// SetupOrderItemsTable creates a fresh order_items table with the columns the
// import touches and drops it when the test ends
func SetupOrderItemsTable(t *testing.T, db *TestDB) {
	t.Helper()

	ctx := context.Background()
	statements := []string{
		`DROP TABLE IF EXISTS order_items`,
		`CREATE TABLE order_items (
			id UUID PRIMARY KEY,
			sequence_number INTEGER,
			customer_name TEXT,
			product_images JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT '2000-01-01T00:00:00Z'
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("Failed to prepare order_items: %v", err)
		}
	}

	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), `DROP TABLE IF EXISTS order_items`)
	})
}

// InsertOrderItem inserts a row and returns its id. A nil images value stores SQL NULL.
func InsertOrderItem(t *testing.T, db *TestDB, sequenceNumber *int, customerName string, images []string) uuid.UUID {
	t.Helper()

	var payload []byte
	if images != nil {
		var err error
		payload, err = json.Marshal(images)
		if err != nil {
			t.Fatalf("Failed to marshal images: %v", err)
		}
	}

	id := uuid.New()
	query := `
		INSERT INTO order_items (id, sequence_number, customer_name, product_images)
		VALUES ($1, $2, $3, $4::jsonb)
	`
	if _, err := db.Pool.Exec(context.Background(), query, id, sequenceNumber, customerName, payload); err != nil {
		t.Fatalf("Failed to insert order item: %v", err)
	}
	return id
}

// ProductImages reads back product_images for id
func ProductImages(t *testing.T, db *TestDB, id uuid.UUID) []string {
	t.Helper()

	var raw []byte
	err := db.Pool.QueryRow(context.Background(), `SELECT product_images FROM order_items WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		t.Fatalf("Failed to read product_images: %v", err)
	}
	if raw == nil {
		return nil
	}

	var images []string
	if err := json.Unmarshal(raw, &images); err != nil {
		t.Fatalf("Failed to decode product_images %s: %v", raw, err)
	}
	return images
}
