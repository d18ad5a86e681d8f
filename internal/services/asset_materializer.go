package services

import (
	"context"
	"fmt"

	"excelimages/internal/config"
	"excelimages/internal/models"

	"go.uber.org/zap"
)

// AssetMaterializer publishes extracted images and returns their URLs per row.
type AssetMaterializer struct {
	store     AssetStore
	prefix    string
	urlPrefix string
	dryRun    bool
	log       *zap.Logger
}

func NewAssetMaterializer(store AssetStore, assets config.AssetsConfig, dryRun bool, log *zap.Logger) *AssetMaterializer {
	return &AssetMaterializer{
		store:     store,
		prefix:    assets.FilePrefix,
		urlPrefix: assets.URLPrefix(),
		dryRun:    dryRun,
		log:       log,
	}
}

// AssetFileName is the published name of an image anchored on row.
// The same row and filename always give the same name.
func AssetFileName(prefix string, row int, filename string) string {
	return fmt.Sprintf("%s-row%d-%s", prefix, row, filename)
}

// URL returns the public URL of a published asset.
func (m *AssetMaterializer) URL(name string) string {
	return m.urlPrefix + "/" + name
}

// Materialize stores every extracted image referenced by rowImages and maps
// each row to the URLs of the images it got. Filenames that were not
// extracted are skipped; rows left without images are omitted.
func (m *AssetMaterializer) Materialize(ctx context.Context, rowImages models.RowImageMap, extracted map[string]string) (models.RowURLMap, error) {
	if !m.dryRun {
		if err := m.store.Prepare(ctx); err != nil {
			return nil, fmt.Errorf("failed to prepare %s: %w", m.store.Location(), err)
		}
	}

	rowURLs := make(models.RowURLMap)
	stored := 0
	for _, row := range rowImages.Rows() {
		var urls []string
		for _, filename := range rowImages[row] {
			sourcePath, ok := extracted[filename]
			if !ok {
				m.log.Debug("Image not extracted, skipping", zap.Int("row", row), zap.String("file", filename))
				continue
			}

			name := AssetFileName(m.prefix, row, filename)
			if !m.dryRun {
				if err := m.store.Put(ctx, name, sourcePath); err != nil {
					return nil, fmt.Errorf("failed to store %s: %w", name, err)
				}
			}
			stored++
			urls = append(urls, m.URL(name))
		}

		if len(urls) > 0 {
			rowURLs[row] = urls
		}
	}

	m.log.Info("Materialized images",
		zap.String("destination", m.store.Location()),
		zap.Int("files", stored),
		zap.Int("rows", len(rowURLs)),
		zap.Bool("dry_run", m.dryRun),
	)

	return rowURLs, nil
}
