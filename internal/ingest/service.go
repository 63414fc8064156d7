// Package ingest turns raw media bytes into stored, playable media items.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/bobarin/beatcut/internal/download"
	"github.com/bobarin/beatcut/internal/models"
	"github.com/google/uuid"
)

// Prober derives duration and thumbnails. *media.FFmpegService implements it.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	ThumbnailDataURL(ctx context.Context, path string, atSeconds float64) (string, error)
}

// Repository persists media records. *db.DB implements it.
type Repository interface {
	CreateMediaItem(ctx context.Context, item *models.MediaItem) error
	GetMediaItem(ctx context.Context, id uuid.UUID) (*models.MediaItem, error)
}

// Fetcher downloads remote media under a lease. *download.Manager
// implements it.
type Fetcher interface {
	Acquire(ctx context.Context, id, rawURL string) (*download.Handle, error)
	Release(h *download.Handle)
	Revoke(id string) bool
}

type Options struct {
	// Name defaults to the source's file name.
	Name string

	// Kind overrides inference from the MIME type.
	Kind models.MediaKind

	// Caller-supplied values are used as is and skip derivation.
	DurationSeconds *float64
	Thumbnail       *string

	SkipDuration  bool
	SkipThumbnail bool
}

type Stats struct {
	Bytes     int64  `json:"bytes"`
	MimeType  string `json:"mimeType"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

type Result struct {
	Item   *models.MediaItem `json:"item"`
	Handle *download.Handle  `json:"handle"`
	Stats  Stats             `json:"stats"`
}

type Service struct {
	store   *BlobStore
	repo    Repository
	prober  Prober
	fetcher Fetcher
}

// New builds a Service. prober and fetcher may be nil; without a prober
// nothing is derived and without a fetcher FromURL fails.
func New(store *BlobStore, repo Repository, prober Prober, fetcher Fetcher) *Service {
	return &Service{store: store, repo: repo, prober: prober, fetcher: fetcher}
}

// Ingest stores the bytes from src for ownerID and records them.
func (s *Service) Ingest(ctx context.Context, ownerID string, src Source, opts Options) (*Result, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", ErrInvalidOwner)
	}

	st, err := src.open(ctx, s)
	if err != nil {
		return nil, err
	}
	defer st.close()

	body := bufio.NewReaderSize(st.body, 512)
	head, _ := body.Peek(512)
	if len(head) == 0 {
		return nil, &download.IntegrityError{ID: st.name, Reason: "payload is empty"}
	}

	mimeType := ResolveMimeType(st.declaredType, head, st.name)
	kind := opts.Kind
	if kind == "" {
		kind = KindFor(mimeType)
	}

	name := opts.Name
	if name == "" {
		name = st.name
	}
	if name == "" {
		name = "untitled"
	}

	id := uuid.New()
	storedPath, size, err := s.store.Put(ownerID, id.String()+download.ExtensionFor(mimeType, st.name), body)
	if err != nil {
		return nil, fmt.Errorf("failed to store media: %w", err)
	}

	item := &models.MediaItem{
		ID:          id,
		OwnerID:     ownerID,
		Name:        name,
		Kind:        kind,
		MimeType:    mimeType,
		ByteSize:    size,
		StoragePath: storedPath,
	}

	item.DurationSeconds = s.deriveDuration(ctx, storedPath, kind, opts)
	item.Thumbnail = s.deriveThumbnail(ctx, storedPath, kind, item.DurationSeconds, opts)

	if err := s.repo.CreateMediaItem(ctx, item); err != nil {
		s.store.Delete(storedPath)
		return nil, fmt.Errorf("failed to save media item: %w", err)
	}

	log.Printf("[Ingest] Stored %s for %s: %s, %d bytes (%s)", item.ID, ownerID, kind, size, mimeType)

	stats := Stats{Bytes: size, MimeType: mimeType}
	if item.Thumbnail != nil {
		stats.Thumbnail = *item.Thumbnail
	}
	return &Result{Item: item, Handle: handleFor(item, st.originalURL), Stats: stats}, nil
}

// Rehydrate mints a fresh handle for a stored item.
func (s *Service) Rehydrate(ctx context.Context, id uuid.UUID) (*download.Handle, error) {
	item, err := s.repo.GetMediaItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.HandleFor(item)
}

// HandleFor checks that item's bytes are still on disk and returns a handle
// to them.
func (s *Service) HandleFor(item *models.MediaItem) (*download.Handle, error) {
	info, err := os.Stat(item.StoragePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stored bytes for media %s are gone: %w", item.ID, err)
		}
		return nil, fmt.Errorf("failed to stat media %s: %w", item.ID, err)
	}
	h := handleFor(item, "")
	h.Bytes = info.Size()
	return h, nil
}

func (s *Service) deriveDuration(ctx context.Context, file string, kind models.MediaKind, opts Options) *float64 {
	if opts.DurationSeconds != nil {
		return opts.DurationSeconds
	}
	if opts.SkipDuration || s.prober == nil || (kind != models.MediaKindVideo && kind != models.MediaKindAudio) {
		return nil
	}
	d, err := s.prober.ProbeDuration(ctx, file)
	if err != nil {
		log.Printf("[Ingest] WARNING: could not read duration of %s: %v", file, err)
		return nil
	}
	return &d
}

func (s *Service) deriveThumbnail(ctx context.Context, file string, kind models.MediaKind, duration *float64, opts Options) *string {
	if opts.Thumbnail != nil {
		return opts.Thumbnail
	}
	if opts.SkipThumbnail || s.prober == nil || (kind != models.MediaKindVideo && kind != models.MediaKindImage) {
		return nil
	}

	at := 0.0
	if kind == models.MediaKindVideo && duration != nil {
		at = *duration / 2
		if at > 1 {
			at = 1
		}
	}
	thumb, err := s.prober.ThumbnailDataURL(ctx, file, at)
	if err != nil {
		log.Printf("[Ingest] WARNING: could not extract thumbnail from %s: %v", file, err)
		return nil
	}
	return &thumb
}

func handleFor(item *models.MediaItem, originalURL string) *download.Handle {
	return &download.Handle{
		ID:          item.ID.String(),
		ObjectURL:   download.FileURL(item.StoragePath),
		Path:        item.StoragePath,
		Bytes:       item.ByteSize,
		ContentType: item.MimeType,
		OriginalURL: originalURL,
	}
}

// ResolveMimeType settles on a MIME type from the declared type, the
// leading bytes and finally the file extension.
func ResolveMimeType(declared string, head []byte, name string) string {
	mt := download.ResolveContentType(declared, head)
	if mt == "application/octet-stream" || mt == "text/plain" {
		if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); byExt != "" {
			if parsed, _, err := mime.ParseMediaType(byExt); err == nil {
				return parsed
			}
		}
		if detected, _, err := mime.ParseMediaType(http.DetectContentType(head)); err == nil &&
			detected != "application/octet-stream" && detected != "text/plain" {
			return detected
		}
	}
	return mt
}

// KindFor maps a MIME type to a media kind. Anything unrecognised is
// treated as video.
func KindFor(mimeType string) models.MediaKind {
	switch {
	case strings.HasPrefix(mimeType, "audio/"):
		return models.MediaKindAudio
	case strings.HasPrefix(mimeType, "image/"):
		return models.MediaKindImage
	default:
		return models.MediaKindVideo
	}
}
