// Package storage keeps raw uploaded documents on disk, addressed by
// org-scoped keys so the original bytes can always be re-fetched for audit.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BlobStore is the interface the ingest pipeline writes uploads through.
type BlobStore interface {
	// Put stores content for an org and returns the storage key.
	Put(orgID, filename string, content []byte) (string, error)

	// Get reads back the content stored under a key.
	Get(key string) ([]byte, error)
}

// LocalBlobStore implements BlobStore on the local filesystem. Keys look like
// org/<org_id>/uploads/<uuid>/<filename> and are always resolved relative to
// the base directory.
type LocalBlobStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalBlobStore creates a store rooted at baseDir.
func NewLocalBlobStore(baseDir string, logger *zap.Logger) *LocalBlobStore {
	return &LocalBlobStore{baseDir: baseDir, logger: logger}
}

// Put stores an upload and returns its key.
func (s *LocalBlobStore) Put(orgID, filename string, content []byte) (string, error) {
	name := sanitizeFilename(filename)
	key := filepath.ToSlash(filepath.Join("org", orgID, "uploads", uuid.NewString(), name))

	fullPath, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		s.logger.Error("Failed to create storage directory",
			zap.String("path", filepath.Dir(fullPath)), zap.Error(err))
		return "", fmt.Errorf("failed to create storage directory: %w", err)
	}
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		s.logger.Error("Failed to write upload",
			zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	s.logger.Debug("Stored upload",
		zap.String("key", key), zap.Int("size", len(content)))
	return key, nil
}

// Get reads the content stored under a key.
func (s *LocalBlobStore) Get(key string) ([]byte, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored file %s: %w", key, err)
	}
	return content, nil
}

// resolve maps a key onto an absolute path and rejects anything that escapes
// the base directory.
func (s *LocalBlobStore) resolve(key string) (string, error) {
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(absBase, filepath.FromSlash(key)))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key escapes base directory: %s", key)
	}
	return absPath, nil
}

// sanitizeFilename strips any path components from a client-supplied name.
func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "upload.bin"
	}
	return name
}
