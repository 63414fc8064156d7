package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

var ownerPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.@-]*$`)

var ErrInvalidOwner = errors.New("invalid owner id")

// BlobStore keeps media bytes on local disk under <root>/<owner>/<id><ext>.
type BlobStore struct {
	root string
}

func NewBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media store %s: %w", root, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media store path: %w", err)
	}
	return &BlobStore{root: abs}, nil
}

func (s *BlobStore) Root() string { return s.root }

// Put copies r into the owner's directory and returns the path and size.
// Partially written files are removed.
func (s *BlobStore) Put(ownerID, name string, r io.Reader) (string, int64, error) {
	if !ownerPattern.MatchString(ownerID) {
		return "", 0, fmt.Errorf("%w %q", ErrInvalidOwner, ownerID)
	}
	dir := filepath.Join(s.root, ownerID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create owner dir: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(name))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, n, nil
}

// Delete removes a stored file. Missing files are not an error.
func (s *BlobStore) Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
