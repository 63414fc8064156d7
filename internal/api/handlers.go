package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/bobarin/beatcut/internal/download"
	"github.com/bobarin/beatcut/internal/edit"
	"github.com/bobarin/beatcut/internal/ingest"
	"github.com/bobarin/beatcut/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxUploadBytes = 512 << 20

// EditStore persists edit jobs. *db.DB implements it.
type EditStore interface {
	CreateEditJob(ctx context.Context, job *models.EditJob) error
	GetEditJob(ctx context.Context, id uuid.UUID) (*models.EditJob, error)
	ListEditJobs(ctx context.Context, limit int) ([]models.EditJob, error)
}

// MediaStore reads media records. *db.DB implements it.
type MediaStore interface {
	GetMediaItem(ctx context.Context, id uuid.UUID) (*models.MediaItem, error)
	ListMediaItems(ctx context.Context, ownerID string) ([]models.MediaItem, error)
}

// Enqueuer schedules edit jobs. *queue.Queue implements it.
type Enqueuer interface {
	EnqueueAssembleEdit(ctx context.Context, jobID uuid.UUID, songSlug string, seed *int64, localize bool) error
}

// Previewer runs an edit synchronously. *edit.Pipeline implements it.
type Previewer interface {
	Run(ctx context.Context, req edit.Request) (*edit.Result, error)
}

// MediaIngester stores uploads. *ingest.Service implements it.
type MediaIngester interface {
	Ingest(ctx context.Context, ownerID string, src ingest.Source, opts ingest.Options) (*ingest.Result, error)
	HandleFor(item *models.MediaItem) (*download.Handle, error)
}

type Handler struct {
	edits    EditStore
	media    MediaStore
	queue    Enqueuer
	pipeline Previewer
	ingest   MediaIngester
}

func NewHandler(edits EditStore, media MediaStore, q Enqueuer, pipeline Previewer, ingester MediaIngester) *Handler {
	return &Handler{
		edits:    edits,
		media:    media,
		queue:    q,
		pipeline: pipeline,
		ingest:   ingester,
	}
}

// CreateEdit handles POST /v1/edits
func (h *Handler) CreateEdit(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.SongSlug = strings.TrimSpace(req.SongSlug)
	if req.SongSlug == "" {
		respondError(w, http.StatusBadRequest, "songSlug is required")
		return
	}

	job := &models.EditJob{
		ID:        uuid.New(),
		SongSlug:  req.SongSlug,
		ProjectID: req.ProjectID,
		Seed:      req.Seed,
		SongURL:   req.SongURL,
		Localize:  req.Localize,
		Status:    models.JobStatusQueued,
	}

	if err := h.edits.CreateEditJob(r.Context(), job); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create edit job")
		return
	}

	if err := h.queue.EnqueueAssembleEdit(r.Context(), job.ID, job.SongSlug, job.Seed, job.Localize); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to enqueue edit job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.CreateEditResponse{
		JobID:  job.ID,
		Status: job.Status,
	})
}

// ListEdits handles GET /v1/edits
// Query params:
//   - limit: max results (default 20, max 100)
func (h *Handler) ListEdits(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > 100 {
			parsed = 100
		}
		limit = parsed
	}

	jobs, err := h.edits.ListEditJobs(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list edit jobs")
		return
	}
	if jobs == nil {
		jobs = []models.EditJob{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"edits": jobs})
}

// GetEdit handles GET /v1/edits/{id}
func (h *Handler) GetEdit(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	job, err := h.edits.GetEditJob(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// PreviewEdit handles POST /v1/edits/preview. It assembles and builds in
// the request and returns the payload without storing anything.
func (h *Handler) PreviewEdit(w http.ResponseWriter, r *http.Request) {
	var req models.CreateEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.SongSlug) == "" {
		respondError(w, http.StatusBadRequest, "songSlug is required")
		return
	}

	res, err := h.pipeline.Run(r.Context(), edit.Request{
		JobID:     "preview-" + uuid.NewString(),
		SongSlug:  strings.TrimSpace(req.SongSlug),
		Seed:      req.Seed,
		ProjectID: deref(req.ProjectID),
		SongURL:   deref(req.SongURL),
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res.Payload)
}

type ingestURLRequest struct {
	OwnerID string `json:"ownerId"`
	URL     string `json:"url"`
	Name    string `json:"name,omitempty"`
}

// CreateMedia handles POST /v1/media. It accepts either a multipart upload
// (file, ownerId, name) or JSON {ownerId, url, name} to fetch remotely.
func (h *Handler) CreateMedia(w http.ResponseWriter, r *http.Request) {
	var (
		ownerID string
		src     ingest.Source
		opts    ingest.Options
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req ingestURLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.URL == "" {
			respondError(w, http.StatusBadRequest, "url is required")
			return
		}
		ownerID, opts.Name = req.OwnerID, req.Name
		src = ingest.FromURL("", req.URL)
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()

		ownerID, opts.Name = r.FormValue("ownerId"), r.FormValue("name")
		src = ingest.FromFile(header.Filename, header.Header.Get("Content-Type"), file)
	}

	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "ownerId is required")
		return
	}

	res, err := h.ingest.Ingest(r.Context(), ownerID, src, opts)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, res)
}

// ListMedia handles GET /v1/media?ownerId=...
func (h *Handler) ListMedia(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("ownerId")
	if ownerID == "" {
		respondError(w, http.StatusBadRequest, "ownerId is required")
		return
	}

	items, err := h.media.ListMediaItems(r.Context(), ownerID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list media")
		return
	}
	if items == nil {
		items = []models.MediaItem{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"media": items})
}

// GetMedia handles GET /v1/media/{id}
func (h *Handler) GetMedia(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	item, err := h.media.GetMediaItem(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, item)
}

// GetMediaContent handles GET /v1/media/{id}/content. Range requests are
// served by http.ServeContent.
func (h *Handler) GetMediaContent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	item, err := h.media.GetMediaItem(r.Context(), id)
	if err != nil {
		respondErr(w, err)
		return
	}

	handle, err := h.ingest.HandleFor(item)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondError(w, http.StatusGone, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	f, err := os.Open(handle.Path)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to open media")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to stat media")
		return
	}

	w.Header().Set("Content-Type", item.MimeType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, item.Name, info.ModTime(), f)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr reports err with its own message and the status it maps to.
func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
