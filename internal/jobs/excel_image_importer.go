package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"excelimages/internal/config"
	"excelimages/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrSourceNotFound is returned before any work when the workbook is missing.
	ErrSourceNotFound = errors.New("excel file not found")
	// ErrImportLocked is returned when another import holds the run lock.
	ErrImportLocked = errors.New("another import is already running")
)

// sampleRows is how many row mappings are logged after each stage.
const sampleRows = 5

// workDirPattern names the scratch directory created under the configured temp dir.
const workDirPattern = "excel_images_extract-*"

type ArchiveScanner interface {
	Scan(ctx context.Context, sourcePath, workDir string) (*models.ScanResult, error)
}

type Materializer interface {
	Materialize(ctx context.Context, rowImages models.RowImageMap, extracted map[string]string) (models.RowURLMap, error)
}

type ImageUpdater interface {
	Apply(ctx context.Context, rowURLs models.RowURLMap) (*models.UpdateResult, error)
}

type RunLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// ExcelImageImporter runs scan, materialize and update once, in that order.
type ExcelImageImporter struct {
	scanner      ArchiveScanner
	materializer Materializer
	updater      ImageUpdater
	lock         RunLock
	sourcePath   string
	tempDir      string
	log          *zap.Logger
}

func NewExcelImageImporter(scanner ArchiveScanner, materializer Materializer, updater ImageUpdater, cfg *config.ImportConfig, log *zap.Logger) *ExcelImageImporter {
	return &ExcelImageImporter{
		scanner:      scanner,
		materializer: materializer,
		updater:      updater,
		sourcePath:   cfg.SourcePath,
		tempDir:      cfg.TempDir,
		log:          log,
	}
}

// SetLock makes Run hold lock for its whole duration.
func (i *ExcelImageImporter) SetLock(lock RunLock) {
	i.lock = lock
}

func (i *ExcelImageImporter) Run(ctx context.Context) (*models.ImportReport, error) {
	if _, err := os.Stat(i.sourcePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, i.sourcePath)
		}
		return nil, fmt.Errorf("failed to stat excel file: %w", err)
	}

	if i.lock != nil {
		acquired, err := i.lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire import lock: %w", err)
		}
		if !acquired {
			return nil, ErrImportLocked
		}
		defer func() {
			if err := i.lock.Release(context.WithoutCancel(ctx)); err != nil {
				i.log.Warn("Failed to release import lock", zap.Error(err))
			}
		}()
	}

	// Each run extracts into its own directory under tempDir; cleanup removes
	// only that directory.
	if err := os.MkdirAll(i.tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	workDir, err := os.MkdirTemp(i.tempDir, workDirPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	i.log.Info("Extracting images from Excel", zap.String("source", i.sourcePath), zap.String("work_dir", workDir))
	scan, err := i.scanner.Scan(ctx, i.sourcePath, workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan workbook: %w", err)
	}

	report := &models.ImportReport{
		DrawingParts: scan.DrawingParts,
		ImageRows:    len(scan.RowImages),
		MediaFiles:   len(scan.Extracted),
		MediaSkipped: scan.MediaSkipped,
	}
	i.log.Info("Found images for rows",
		zap.Int("drawings", report.DrawingParts),
		zap.Int("rows", report.ImageRows),
		zap.Int("media_files", report.MediaFiles),
		zap.Int("media_skipped", report.MediaSkipped),
	)
	for _, row := range firstRows(scan.RowImages.Rows()) {
		i.log.Info("Sample row mapping", zap.Int("row", row), zap.Strings("images", scan.RowImages[row]))
	}

	rowURLs, err := i.materializer.Materialize(ctx, scan.RowImages, scan.Extracted)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize images: %w", err)
	}
	report.URLRows = len(rowURLs)
	for _, row := range firstRows(rowURLs.Rows()) {
		i.log.Debug("Sample row URLs", zap.Int("row", row), zap.Strings("urls", rowURLs[row]))
	}

	i.log.Info("Updating order items in database", zap.Int("rows_with_urls", report.URLRows))
	update, err := i.updater.Apply(ctx, rowURLs)
	if err != nil {
		return nil, fmt.Errorf("failed to update order items: %w", err)
	}
	report.Update = update

	if err := os.RemoveAll(workDir); err != nil {
		i.log.Debug("Failed to clean up work dir", zap.String("work_dir", workDir), zap.Error(err))
	}

	return report, nil
}

func firstRows(rows []int) []int {
	if len(rows) > sampleRows {
		return rows[:sampleRows]
	}
	return rows
}
