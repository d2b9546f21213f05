package filestore

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// Store keeps raw blob content on a filesystem, one file per blob id.
// Metadata lives in the file repository; the store only moves bytes.
type Store struct {
	fs afero.Fs
}

// New creates a blob store rooted at dir on the OS filesystem. The
// directory is created if missing.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir %s: %w", dir, err)
	}
	return &Store{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}, nil
}

// NewWithFs creates a blob store over an arbitrary filesystem.
func NewWithFs(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// Save streams r into the blob, replacing any previous content, and
// returns the byte count.
func (s *Store) Save(id string, r io.Reader) (int64, error) {
	f, err := s.fs.Create(id)
	if err != nil {
		return 0, fmt.Errorf("create blob %s: %w", id, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("write blob %s: %w", id, err)
	}
	return n, nil
}

// Create opens an incremental writer for the blob. Used by the batch
// executor to stream artifact lines as results arrive.
func (s *Store) Create(id string) (io.WriteCloser, error) {
	f, err := s.fs.Create(id)
	if err != nil {
		return nil, fmt.Errorf("create blob %s: %w", id, err)
	}
	return f, nil
}

// Open returns a reader over the blob.
func (s *Store) Open(id string) (io.ReadCloser, error) {
	f, err := s.fs.Open(id)
	if err != nil {
		return nil, fmt.Errorf("open blob %s: %w", id, err)
	}
	return f, nil
}

// Read returns the whole blob content.
func (s *Store) Read(id string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, id)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", id, err)
	}
	return data, nil
}

// Delete removes the blob. Missing blobs are not an error.
func (s *Store) Delete(id string) error {
	if err := s.fs.Remove(id); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

// Size returns the blob length in bytes.
func (s *Store) Size(id string) (int64, error) {
	info, err := s.fs.Stat(id)
	if err != nil {
		return 0, fmt.Errorf("stat blob %s: %w", id, err)
	}
	return info.Size(), nil
}
