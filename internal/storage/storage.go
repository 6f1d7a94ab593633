// Package storage holds uploaded documents between submission and analysis.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/findoc/internal/config"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("upload not found")
var ErrInvalidRef = errors.New("invalid upload reference")

const (
	filePrefix = "financial_document_"
	fileSuffix = ".pdf"
)

// File is an opened upload. PDF parsing needs random access.
type File interface {
	io.ReaderAt
	io.Closer
}

// Store persists uploads under collision-free names and hands them back by reference.
type Store interface {
	Save(ctx context.Context, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (File, int64, error)
	Remove(ctx context.Context, ref string) error
	Ping(ctx context.Context) error
}

// Sweeper removes uploads left behind by jobs that never reached cleanup.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration) (int, error)
}

// NewFileName returns a fresh upload name of the form financial_document_<uuid>.pdf.
func NewFileName() string {
	return filePrefix + uuid.NewString() + fileSuffix
}

// isUploadName reports whether name was produced by NewFileName.
func isUploadName(name string) bool {
	if len(name) != len(filePrefix)+36+len(fileSuffix) {
		return false
	}
	if name[:len(filePrefix)] != filePrefix || name[len(name)-len(fileSuffix):] != fileSuffix {
		return false
	}
	_, err := uuid.Parse(name[len(filePrefix) : len(name)-len(fileSuffix)])
	return err == nil
}

// New returns the Store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "local":
		return NewLocalStore(cfg.Dir)
	case "minio":
		return NewMinioStore(ctx, cfg.Minio)
	default:
		return nil, fmt.Errorf("unsupported upload storage %q", cfg.Driver)
	}
}

// CleanupUpload removes an upload on a best-effort basis. It never fails and never panics;
// problems are logged and swallowed so the job outcome stands.
func CleanupUpload(ctx context.Context, s Store, ref string, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during upload cleanup", zap.String("file_ref", ref), zap.Any("panic", r))
		}
	}()

	if ref == "" {
		return
	}
	if err := s.Remove(ctx, ref); err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Debug("upload already removed", zap.String("file_ref", ref))
			return
		}
		logger.Warn("upload cleanup failed", zap.String("file_ref", ref), zap.Error(err))
		return
	}
	logger.Debug("upload removed", zap.String("file_ref", ref))
}
