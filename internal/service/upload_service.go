package service

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mentara/examengine/config"
)

// UploadSink stores binary artifacts attached to attempts and returns a
// stable path for later retrieval.
type UploadSink interface {
	StoreEvaluatedPDF(ownerID, attemptID uint, filename string, src io.Reader) (string, error)
}

type localUploadSink struct {
	baseDir string
}

// NewLocalUploadSink stores uploads on local disk under the configured
// upload directory.
func NewLocalUploadSink(cfg *config.Config) UploadSink {
	return &localUploadSink{baseDir: cfg.Upload.Dir}
}

func (s *localUploadSink) StoreEvaluatedPDF(ownerID, attemptID uint, filename string, src io.Reader) (string, error) {
	// Base strips any client-supplied directory parts; the uuid prefix keeps
	// re-uploads from clobbering each other.
	name := fmt.Sprintf("%d_%s_%s", attemptID, uuid.New().String(), filepath.Base(filename))
	rel := filepath.Join("evaluated_pdfs", fmt.Sprintf("%d", ownerID), name)
	abs := filepath.Join(s.baseDir, rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("creating upload directory: %w", err)
	}
	dst, err := os.Create(abs)
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("writing upload: %w", err)
	}
	return rel, nil
}
