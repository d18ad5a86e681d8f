package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"excelimages/internal/models"
	"excelimages/internal/repositories"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// errUnreadableLegacy marks a legacy string value whose contents are not a
// JSON array. Such values are replaced rather than failing the batch.
var errUnreadableLegacy = errors.New("string value is not a JSON array")

// verboseUpdates is how many updates are logged at info level before the
// updater drops to debug.
const verboseUpdates = 10

// TxBeginner is satisfied by *pgxpool.Pool and pgxmock pools.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// RecordUpdater attaches image URLs to order items by sequence number.
type RecordUpdater struct {
	db     TxBeginner
	dryRun bool
	log    *zap.Logger
}

func NewRecordUpdater(db TxBeginner, dryRun bool, log *zap.Logger) *RecordUpdater {
	return &RecordUpdater{db: db, dryRun: dryRun, log: log}
}

// Apply merges rowURLs into every sequenced order item inside one transaction.
// Stored URLs are never removed or reordered. Any database error rolls the
// whole batch back; a dry run always rolls back.
func (u *RecordUpdater) Apply(ctx context.Context, rowURLs models.RowURLMap) (*models.UpdateResult, error) {
	tx, err := u.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := u.apply(ctx, repositories.NewOrderItemRepo(tx), rowURLs)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			u.log.Error("Rollback failed", zap.Error(rbErr))
		}
		u.log.Error("Order item update failed, rolled back", zap.Error(err))
		return nil, err
	}

	if u.dryRun {
		if err := tx.Rollback(ctx); err != nil {
			return nil, fmt.Errorf("failed to roll back dry run: %w", err)
		}
		result.DryRun = true
		u.log.Info("Dry run, changes rolled back", zap.Int("would_update", result.Updated))
		return result, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	u.log.Info("Order items updated",
		zap.Int("selected", result.Selected),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("unchanged", result.Unchanged),
	)
	return result, nil
}

func (u *RecordUpdater) apply(ctx context.Context, repo repositories.OrderItemRepository, rowURLs models.RowURLMap) (*models.UpdateResult, error) {
	items, err := repo.ListSequenced(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}

	result := &models.UpdateResult{Selected: len(items)}
	u.log.Info("Found order items with sequence numbers", zap.Int("count", len(items)))

	for _, item := range items {
		if item.SequenceNumber == nil {
			continue
		}
		seq := *item.SequenceNumber

		newURLs, ok := rowURLs[models.RowForSequence(seq)]
		if !ok {
			result.Skipped++
			continue
		}

		current, err := decodeImageList(item.ProductImages)
		if errors.Is(err, errUnreadableLegacy) {
			u.log.Warn("Unreadable product_images, treating as empty",
				zap.String("order_item_id", item.ID.String()),
				zap.ByteString("product_images", item.ProductImages),
				zap.Error(err),
			)
			current = []json.RawMessage{}
		} else if err != nil {
			return nil, fmt.Errorf("order item %s: %w", item.ID, err)
		}

		merged, changed, err := mergeImageURLs(current, newURLs)
		if err != nil {
			return nil, err
		}
		if !changed {
			result.Unchanged++
			continue
		}

		payload, err := json.Marshal(merged)
		if err != nil {
			return nil, err
		}
		if err := repo.UpdateProductImages(ctx, item.ID, payload); err != nil {
			return nil, fmt.Errorf("failed to update order item %s: %w", item.ID, err)
		}
		result.Updated++

		fields := []zap.Field{
			zap.Int("sequence_number", seq),
			zap.String("customer", item.DisplayName(20)),
			zap.Int("images", len(newURLs)),
		}
		switch {
		case result.Updated <= verboseUpdates:
			u.log.Info("Updated order item", fields...)
		case result.Updated == verboseUpdates+1:
			u.log.Info("Continuing updates, further items logged at debug level")
			u.log.Debug("Updated order item", fields...)
		default:
			u.log.Debug("Updated order item", fields...)
		}
	}

	return result, nil
}

// decodeImageList reads a stored product_images value into its raw elements.
// NULL gives an empty list. Legacy rows hold the array serialized inside a
// JSON string; any other non-array value is an error.
func decodeImageList(raw []byte) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []json.RawMessage{}, nil
	}

	var images []json.RawMessage
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", errUnreadableLegacy, err)
		}
		if err := json.Unmarshal([]byte(inner), &images); err != nil {
			return nil, fmt.Errorf("%w: %v", errUnreadableLegacy, err)
		}
	} else if err := json.Unmarshal(raw, &images); err != nil {
		return nil, fmt.Errorf("product_images is not a JSON array: %w", err)
	}

	if images == nil {
		images = []json.RawMessage{}
	}
	return images, nil
}

// mergeImageURLs appends every URL of add that current lacks, keeping order.
// Elements of current that are not strings are kept as they are and never
// match a URL. It reports whether anything was appended.
func mergeImageURLs(current []json.RawMessage, add []string) ([]json.RawMessage, bool, error) {
	seen := make(map[string]struct{}, len(current)+len(add))
	merged := make([]json.RawMessage, 0, len(current)+len(add))
	for _, elem := range current {
		if url, ok := stringElement(elem); ok {
			seen[url] = struct{}{}
		}
		merged = append(merged, elem)
	}

	changed := false
	for _, url := range add {
		if _, ok := seen[url]; ok {
			continue
		}
		encoded, err := json.Marshal(url)
		if err != nil {
			return nil, false, err
		}
		seen[url] = struct{}{}
		merged = append(merged, encoded)
		changed = true
	}
	return merged, changed, nil
}

func stringElement(elem json.RawMessage) (string, bool) {
	elem = bytes.TrimSpace(elem)
	if len(elem) == 0 || elem[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(elem, &s); err != nil {
		return "", false
	}
	return s, true
}
