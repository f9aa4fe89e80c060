package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalFileStore keeps message attachments on the local filesystem,
// content-addressed and sharded by the first two hex digits of the
// hash so no single directory accumulates every upload.
type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment root: %w", err)
	}
	return &LocalFileStore{root: root}, nil
}

func (s *LocalFileStore) pathFor(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.root, hash)
	}
	return filepath.Join(s.root, hash[:2], hash)
}

// Save writes an attachment under its content hash. Since the name is
// derived from the content, a re-upload of the same bytes finds the
// file already present and does nothing.
func (s *LocalFileStore) Save(r io.Reader, hash string) error {
	dst := s.pathFor(hash)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	shard := filepath.Dir(dst)
	if err := os.MkdirAll(shard, 0o755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	// Stage in the shard directory and rename into place, so an
	// interrupted write never leaves a partial attachment under its
	// final name.
	tmp, err := os.CreateTemp(shard, ".staging-*")
	if err != nil {
		return fmt.Errorf("failed to stage attachment: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("failed to write attachment: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to finish attachment: %w", err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to place attachment: %w", err)
	}
	return nil
}

func (s *LocalFileStore) Get(hash string) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment %s: %w", hash, err)
	}
	return f, nil
}
