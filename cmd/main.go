package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"excelimages/internal/caching"
	"excelimages/internal/config"
	"excelimages/internal/excel"
	"excelimages/internal/jobs"
	"excelimages/internal/logger"
	"excelimages/internal/services"
	"excelimages/pkg/database"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const version = "1.0.0"

type flags struct {
	configFile  string
	envFile     string
	source      string
	uploadsDir  string
	tempDir     string
	baseURL     string
	databaseURL string
	prefix      string
	storage     string
	env         string
	dryRun      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:   "excel-images",
		Short: "Attach pictures embedded in a workbook to order items",
		Long: `excel-images pulls every picture anchored in an .xlsx workbook, publishes it
under the uploads path and appends its URL to the product_images of the order
item whose sequence number matches the picture's row.

Examples:
  excel-images --source "MIRIN เครื่องบิน 2025.xlsx"
  excel-images --config import.toml --dry-run
  excel-images --storage minio --env production`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.configFile, "config", "", "TOML config file")
	fl.StringVar(&f.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	fl.StringVar(&f.source, "source", "", "workbook to import")
	fl.StringVar(&f.uploadsDir, "uploads-dir", "", "directory published images are copied into")
	fl.StringVar(&f.tempDir, "temp-dir", "", "directory the per-run extraction dir is created in")
	fl.StringVar(&f.baseURL, "base-url", "", "public base URL of the uploads server")
	fl.StringVar(&f.databaseURL, "database-url", "", "PostgreSQL connection string")
	fl.StringVar(&f.prefix, "prefix", "", "prefix for published file names")
	fl.StringVar(&f.storage, "storage", "", "asset storage: local or minio")
	fl.StringVar(&f.env, "env", "", "development or production logging")
	fl.BoolVar(&f.dryRun, "dry-run", false, "scan and report without writing files or committing")

	return cmd
}

// loadConfig layers defaults, the TOML file, the environment and finally
// explicitly set flags.
func loadConfig(cmd *cobra.Command, f *flags) (*config.ImportConfig, error) {
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, err
	}

	cfg, err := config.LoadImportConfig(f.configFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	fl := cmd.Flags()
	if fl.Changed("source") {
		cfg.SourcePath = f.source
	}
	if fl.Changed("uploads-dir") {
		cfg.Assets.UploadsDir = f.uploadsDir
	}
	if fl.Changed("temp-dir") {
		cfg.TempDir = f.tempDir
	}
	if fl.Changed("base-url") {
		cfg.Assets.BaseURL = f.baseURL
	}
	if fl.Changed("database-url") {
		cfg.DatabaseURL = f.databaseURL
	}
	if fl.Changed("prefix") {
		cfg.Assets.FilePrefix = f.prefix
	}
	if fl.Changed("storage") {
		cfg.Assets.Storage = f.storage
	}
	if fl.Changed("env") {
		cfg.Env = f.env
	}
	if fl.Changed("dry-run") {
		cfg.DryRun = f.dryRun
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.ImportConfig) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, err := logger.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	// Fail on a missing workbook before touching the database.
	if _, err := os.Stat(cfg.SourcePath); errors.Is(err, os.ErrNotExist) {
		log.Error("Excel file not found", zap.String("source", cfg.SourcePath))
		return fmt.Errorf("%w: %s", jobs.ErrSourceNotFound, cfg.SourcePath)
	}

	pool, err := database.NewPool(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("Database connection failed", zap.Error(err))
		return err
	}
	defer pool.Close()

	store, err := newAssetStore(cfg)
	if err != nil {
		return err
	}

	importer := jobs.NewExcelImageImporter(
		excel.NewScanner(log),
		services.NewAssetMaterializer(store, cfg.Assets, cfg.DryRun, log),
		services.NewRecordUpdater(pool, cfg.DryRun, log),
		cfg,
		log,
	)

	if cfg.Redis.Addr != "" {
		lock := caching.NewRedisImportLock(cfg.Redis, log)
		defer lock.Close()
		importer.SetLock(lock)
	}

	log.Info("MIRIN Excel image import started",
		zap.String("version", version),
		zap.String("source", cfg.SourcePath),
		zap.String("storage", cfg.Assets.Storage),
		zap.Bool("dry_run", cfg.DryRun),
	)

	report, err := importer.Run(ctx)
	if err != nil {
		log.Error("Import failed", zap.Error(err))
		return err
	}

	log.Info("Import completed successfully",
		zap.Int("drawings", report.DrawingParts),
		zap.Int("image_rows", report.ImageRows),
		zap.Int("media_files", report.MediaFiles),
		zap.Int("media_skipped", report.MediaSkipped),
		zap.Int("url_rows", report.URLRows),
		zap.Int("updated", report.Update.Updated),
		zap.Int("skipped", report.Update.Skipped),
		zap.Int("unchanged", report.Update.Unchanged),
		zap.Bool("dry_run", report.Update.DryRun),
	)
	return nil
}

func newAssetStore(cfg *config.ImportConfig) (services.AssetStore, error) {
	if cfg.Assets.Storage != config.StorageMinio {
		return services.NewLocalAssetStore(cfg.Assets.UploadsDir), nil
	}

	minioSvc, err := services.NewMinioService(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.UseSSL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO service: %w", err)
	}
	return services.NewMinioAssetStore(minioSvc, cfg.Minio.Bucket, cfg.Minio.ObjectPrefix), nil
}
