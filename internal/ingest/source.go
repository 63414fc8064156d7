package ingest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"

	"github.com/bobarin/beatcut/internal/download"
)

// Source is where the bytes of a new media item come from.
type Source interface {
	open(ctx context.Context, s *Service) (*staged, error)
}

// staged is a readable payload plus what we know about it so far.
type staged struct {
	body         io.ReadCloser
	name         string
	declaredType string
	originalURL  string

	// release runs after the bytes have been copied, on success or not.
	release func()
}

func (st *staged) close() {
	st.body.Close()
	if st.release != nil {
		st.release()
	}
}

type urlSource struct {
	id  string
	url string
}

// FromURL fetches url through the download manager. id keys the download
// cache and defaults to the URL itself. The cache entry is dropped once the
// bytes are in the store.
func FromURL(id, rawURL string) Source {
	return urlSource{id: id, url: rawURL}
}

func (u urlSource) open(ctx context.Context, s *Service) (*staged, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("no downloader configured for %s", u.url)
	}
	h, err := s.fetcher.Acquire(ctx, u.id, u.url)
	if err != nil {
		return nil, err
	}
	drop := func() {
		s.fetcher.Release(h)
		s.fetcher.Revoke(h.ID)
	}
	st, err := openHandle(h)
	if err != nil {
		drop()
		return nil, err
	}
	st.release = drop
	if parsed, err := url.Parse(u.url); err == nil {
		if base := path.Base(parsed.Path); base != "." && base != "/" {
			st.name = base
		}
	}
	return st, nil
}

type blobSource struct {
	handle *download.Handle
}

// FromBlob ingests an entry already sitting in the download cache.
func FromBlob(h *download.Handle) Source {
	return blobSource{handle: h}
}

func (b blobSource) open(ctx context.Context, s *Service) (*staged, error) {
	if b.handle == nil {
		return nil, fmt.Errorf("blob handle is nil")
	}
	return openHandle(b.handle)
}

func openHandle(h *download.Handle) (*staged, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cached blob %s: %w", h.ID, err)
	}
	return &staged{
		body:         f,
		name:         path.Base(h.Path),
		declaredType: h.ContentType,
		originalURL:  h.OriginalURL,
	}, nil
}

type fileSource struct {
	name     string
	mimeType string
	r        io.Reader
}

// FromFile ingests a user-provided file. mimeType may be empty.
func FromFile(name, mimeType string, r io.Reader) Source {
	return fileSource{name: name, mimeType: mimeType, r: r}
}

func (f fileSource) open(ctx context.Context, s *Service) (*staged, error) {
	if f.r == nil {
		return nil, fmt.Errorf("file %q has no content", f.name)
	}
	return &staged{
		body:         io.NopCloser(f.r),
		name:         f.name,
		declaredType: f.mimeType,
	}, nil
}
