package splitter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pdf2md/internal/domain"
	"pdf2md/internal/domain/ports/adapter"
	"pdf2md/internal/domain/ports/repository"
)

var _ adapter.PageSplitter = (*PDFCPUSplitter)(nil)

// PDFCPUSplitter validates and optimizes the source PDF, splits it into
// single-page documents, and uploads each page to the object store.
type PDFCPUSplitter struct {
	store       repository.ObjectStore
	uploadLimit int
	log         *zerolog.Logger
}

func NewPDFCPUSplitter(store repository.ObjectStore, uploadLimit int, logger *zerolog.Logger) *PDFCPUSplitter {
	l := logger.With().Str("component", "PDFCPUSplitter").Logger()
	if uploadLimit <= 0 {
		uploadLimit = 10
	}
	return &PDFCPUSplitter{store: store, uploadLimit: uploadLimit, log: &l}
}

// PageKey is the object-store key of one rendered page.
func PageKey(jobID string, pageNumber int) string {
	return fmt.Sprintf("jobs/%s/pages/%05d.pdf", jobID, pageNumber)
}

func (s *PDFCPUSplitter) Split(ctx context.Context, jobID string, pdf []byte) ([]string, error) {
	tempDir, err := os.MkdirTemp("", "pdf2md-split-*")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	sourcePath := filepath.Join(tempDir, "source.pdf")
	if err := os.WriteFile(sourcePath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("write source: %w", err)
	}

	optimizedPath := filepath.Join(tempDir, "optimized.pdf")
	if err := optimizePDF(sourcePath, optimizedPath); err != nil {
		return nil, fmt.Errorf("%w: optimize: %v", domain.ErrSplitFailed, err)
	}

	pageCount, err := api.PageCountFile(optimizedPath)
	if err != nil {
		return nil, fmt.Errorf("%w: page count: %v", domain.ErrSplitFailed, err)
	}
	if pageCount == 0 {
		return nil, fmt.Errorf("%w: document has no pages", domain.ErrSplitFailed)
	}

	if err := api.SplitFile(optimizedPath, tempDir, 1, nil); err != nil {
		return nil, fmt.Errorf("%w: split: %v", domain.ErrSplitFailed, err)
	}

	s.log.Info().Str("job_id", jobID).Int("page_count", pageCount).Msg("PDF split locally, uploading pages")

	keys := make([]string, pageCount)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.uploadLimit)

	// pdfcpu names split output <base>_<page>.pdf with 1-based pages.
	for i := 1; i <= pageCount; i++ {
		pageNumber := i
		localPath := filepath.Join(tempDir, fmt.Sprintf("optimized_%d.pdf", pageNumber))
		key := PageKey(jobID, pageNumber-1)
		keys[pageNumber-1] = key

		eg.Go(func() error {
			data, err := os.ReadFile(localPath)
			if err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			if err := s.store.Put(gctx, key, data, "application/pdf"); err != nil {
				return fmt.Errorf("page %d: %w", pageNumber, err)
			}
			return nil
		})
	}
	// Upload trouble is transient store trouble, not a document defect, so
	// it is not a split failure and the job stays retryable.
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("upload pages: %w", err)
	}

	s.log.Info().Str("job_id", jobID).Int("page_count", pageCount).Msg("all pages uploaded")
	return keys, nil
}

func optimizePDF(inPath, outPath string) error {
	cfg := pdfmodel.NewDefaultConfiguration()
	cfg.ValidationMode = pdfmodel.ValidationRelaxed
	return api.OptimizeFile(inPath, outPath, cfg)
}
