// Package excel recovers row-anchored pictures from zipped SpreadsheetML
// workbooks without loading cell data.
package excel

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"excelimages/internal/models"

	"go.uber.org/zap"
)

const (
	drawingsPrefix = "xl/drawings/drawing"
	drawingsDir    = "xl/drawings/"
	drawingRelsDir = "xl/drawings/_rels/"
	mediaPrefix    = "xl/media/"
)

// ErrInvalidWorkbook indicates the source is not a zip package.
var ErrInvalidWorkbook = errors.New("invalid xlsx workbook")

// Scanner maps drawing anchors to display rows and extracts embedded media.
type Scanner struct {
	log *zap.Logger
}

func NewScanner(log *zap.Logger) *Scanner {
	return &Scanner{log: log}
}

// Scan opens the workbook at sourcePath, builds the row to image map and
// writes every media entry into workDir.
func (s *Scanner) Scan(ctx context.Context, sourcePath, workDir string) (*models.ScanResult, error) {
	r, err := zip.OpenReader(sourcePath)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidWorkbook, sourcePath, err)
		}
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer r.Close()

	rowImages, drawingParts, err := s.ScanDrawings(ctx, &r.Reader)
	if err != nil {
		return nil, err
	}

	s.log.Info("Extracting media files", zap.String("work_dir", workDir))
	extracted, skipped, err := s.ExtractMedia(ctx, &r.Reader, workDir)
	if err != nil {
		return nil, err
	}

	s.log.Info("Extracted media files", zap.Int("extracted", len(extracted)), zap.Int("skipped", skipped))

	return &models.ScanResult{
		RowImages:    rowImages,
		Extracted:    extracted,
		DrawingParts: drawingParts,
		MediaSkipped: skipped,
	}, nil
}

// ScanDrawings walks every drawing part that has a relationship part and
// returns the display rows its pictures are anchored on, along with the
// number of drawing parts processed. Malformed XML aborts the scan.
func (s *Scanner) ScanDrawings(ctx context.Context, r *zip.Reader) (models.RowImageMap, int, error) {
	files := make(map[string]*zip.File, len(r.File))
	for _, f := range r.File {
		files[f.Name] = f
	}

	type drawingPart struct{ drawing, rels string }
	var parts []drawingPart
	for _, f := range r.File {
		if !isDrawingPart(f.Name) {
			continue
		}
		relsPath := drawingRelsPath(f.Name)
		if _, ok := files[relsPath]; ok {
			parts = append(parts, drawingPart{drawing: f.Name, rels: relsPath})
		}
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].drawing < parts[j].drawing })

	s.log.Info("Found drawing files with relationships", zap.Int("count", len(parts)))

	rowImages := make(models.RowImageMap)
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		s.log.Debug("Processing drawing", zap.String("part", part.drawing))

		relsXML, err := readZipFile(files[part.rels])
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", part.rels, err)
		}
		relMap, err := parseMediaRelationships(relsXML)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to parse %s: %w", part.rels, err)
		}

		s.log.Debug("Image relationships", zap.String("part", part.rels), zap.Int("count", len(relMap)))

		drawingXML, err := readZipFile(files[part.drawing])
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read %s: %w", part.drawing, err)
		}
		anchors, err := parseDrawingAnchors(drawingXML)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to parse %s: %w", part.drawing, err)
		}

		for _, anchor := range anchors {
			if anchor.Row == nil || anchor.Embed == "" {
				continue
			}
			filename, ok := relMap[anchor.Embed]
			if !ok {
				continue
			}
			rowImages.Add(*anchor.Row+models.DrawingRowOffset, filename)
		}
	}

	return rowImages, len(parts), nil
}

// ExtractMedia writes every xl/media entry into dir keyed by its base name.
// Entries that cannot be read or written are logged and counted, not fatal.
func (s *Scanner) ExtractMedia(ctx context.Context, r *zip.Reader, dir string) (map[string]string, int, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, 0, fmt.Errorf("failed to create work dir: %w", err)
	}

	extracted := make(map[string]string)
	skipped := 0
	for _, f := range r.File {
		if !strings.HasPrefix(f.Name, mediaPrefix) {
			continue
		}
		filename := path.Base(f.Name)
		if strings.HasSuffix(f.Name, "/") || filename == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}

		target := filepath.Join(dir, filename)
		if err := extractFile(f, target); err != nil {
			s.log.Warn("Skipped corrupted media file", zap.String("file", filename), zap.Error(err))
			skipped++
			continue
		}
		extracted[filename] = target
	}

	return extracted, skipped, nil
}

func isDrawingPart(name string) bool {
	return strings.HasPrefix(name, drawingsPrefix) &&
		strings.HasSuffix(name, ".xml") &&
		!strings.Contains(name, "vml")
}

// drawingRelsPath returns xl/drawings/_rels/drawingN.xml.rels for xl/drawings/drawingN.xml.
func drawingRelsPath(drawing string) string {
	return drawingRelsDir + strings.TrimPrefix(drawing, drawingsDir) + ".rels"
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func extractFile(f *zip.File, target string) error {
	data, err := readZipFile(f)
	if err != nil {
		return err
	}
	return os.WriteFile(target, data, 0644)
}
