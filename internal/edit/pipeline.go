// Package edit runs the whole edit pipeline: pick clips for a song, lay
// them out on a timeline and optionally pull remote media local.
package edit

import (
	"context"
	"fmt"
	"log"

	"github.com/bobarin/beatcut/internal/download"
	"github.com/bobarin/beatcut/internal/ingest"
	"github.com/bobarin/beatcut/internal/models"
	"github.com/bobarin/beatcut/internal/timeline"
)

// Planner assembles a plan for a song. *slotplan.Assembler implements it.
type Planner interface {
	Assemble(ctx context.Context, slug string, seed *int64) (*models.GenerateEditPlan, error)
}

// Fetcher downloads many URLs at once. *download.Manager implements it.
type Fetcher interface {
	DownloadMany(ctx context.Context, items []download.Item, opts download.ManyOptions) []download.Result
	Release(h *download.Handle)
	Revoke(id string) bool
}

// Ingester stores fetched media. *ingest.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, ownerID string, src ingest.Source, opts ingest.Options) (*ingest.Result, error)
}

type Config struct {
	// Layout defaults handed to the timeline builder.
	AspectRatio     string
	BackgroundColor string
	LeadInFrames    int

	// DownloadConcurrency bounds localization fetches.
	DownloadConcurrency int

	// MediaBaseURL prefixes /v1/media/<id>/content for ingested media.
	// Empty leaves the path relative.
	MediaBaseURL string

	// DefaultOwner receives ingested media when a request names none.
	DefaultOwner string
}

type Pipeline struct {
	planner  Planner
	fetcher  Fetcher
	ingester Ingester
	cfg      Config
}

// New builds a Pipeline. fetcher and ingester may be nil: without a
// fetcher localization is skipped with a warning, without an ingester
// localized overlays point at the download cache.
func New(planner Planner, fetcher Fetcher, ingester Ingester, cfg Config) *Pipeline {
	if cfg.DefaultOwner == "" {
		cfg.DefaultOwner = "edits"
	}
	return &Pipeline{planner: planner, fetcher: fetcher, ingester: ingester, cfg: cfg}
}

type Request struct {
	JobID     string
	SongSlug  string
	Seed      *int64
	ProjectID string
	SongURL   string
	RenderURL string
	Localize  bool

	// OwnerID owns ingested media; defaults to the project, then the
	// configured default owner.
	OwnerID string

	FreezeSegments map[int]bool

	// OnDownload is called as each localization fetch finishes.
	OnDownload func(download.Result)
}

type Result struct {
	Plan     *models.GenerateEditPlan          `json:"plan"`
	Payload  *models.GenerateEditImportPayload `json:"payload"`
	Localize *LocalizeStats                    `json:"localize,omitempty"`
}

// Run assembles, builds and, when asked, localizes one edit. Assembly and
// build errors are returned as is; localization problems only add warnings.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.SongSlug == "" {
		return nil, fmt.Errorf("song slug is required")
	}

	plan, err := p.planner.Assemble(ctx, req.SongSlug, req.Seed)
	if err != nil {
		return nil, err
	}

	payload, err := timeline.Build(plan, timeline.Options{
		JobID:           req.JobID,
		ProjectID:       req.ProjectID,
		RenderURL:       req.RenderURL,
		SongURL:         req.SongURL,
		AspectRatio:     p.cfg.AspectRatio,
		BackgroundColor: p.cfg.BackgroundColor,
		LeadInFrames:    p.cfg.LeadInFrames,
		FreezeSegments:  req.FreezeSegments,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build timeline: %w", err)
	}

	res := &Result{Plan: plan, Payload: payload}
	if !req.Localize {
		return res, nil
	}

	if p.fetcher == nil {
		payload.Meta.Warnings = append(payload.Meta.Warnings, "localization requested but no downloader is configured")
		return res, nil
	}

	owner := req.OwnerID
	if owner == "" {
		owner = req.ProjectID
	}
	if owner == "" {
		owner = p.cfg.DefaultOwner
	}

	stats := p.Localize(ctx, payload, owner, req.OnDownload)
	res.Localize = &stats
	log.Printf("[Edit] Localized %d/%d remote sources for %s (%d failed)", stats.Localized, stats.Requested, req.SongSlug, stats.Failed)

	return res, nil
}
