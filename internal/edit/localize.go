package edit

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bobarin/beatcut/internal/download"
	"github.com/bobarin/beatcut/internal/ingest"
	"github.com/bobarin/beatcut/internal/models"
)

type LocalizeStats struct {
	Requested int `json:"requested"`
	Localized int `json:"localized"`
	Failed    int `json:"failed"`
}

// RemoteSources lists the distinct http(s) sources in payload, in the
// order they first appear.
func RemoteSources(payload *models.GenerateEditImportPayload) []string {
	seen := make(map[string]bool)
	var srcs []string
	for _, o := range payload.Overlays {
		if !isRemote(o.Src) || seen[o.Src] {
			continue
		}
		seen[o.Src] = true
		srcs = append(srcs, o.Src)
	}
	return srcs
}

// Localize downloads every remote source in payload and points the
// overlays at the local copy. Each source that cannot be localized keeps
// its original URL and adds a warning to the payload.
func (p *Pipeline) Localize(ctx context.Context, payload *models.GenerateEditImportPayload, ownerID string, onResult func(download.Result)) LocalizeStats {
	srcs := RemoteSources(payload)
	stats := LocalizeStats{Requested: len(srcs)}
	if len(srcs) == 0 {
		return stats
	}

	items := make([]download.Item, len(srcs))
	for i, src := range srcs {
		items[i] = download.Item{ID: src, URL: src}
	}

	results := p.fetcher.DownloadMany(ctx, items, download.ManyOptions{
		Concurrency: p.cfg.DownloadConcurrency,
		OnResult:    onResult,
		Lease:       true,
	})

	replaced := make(map[string]localCopy, len(results))
	for _, r := range results {
		if r.Err != nil {
			stats.Failed++
			payload.Meta.Warnings = append(payload.Meta.Warnings, fmt.Sprintf("could not localize %s: %v", r.URL, r.Err))
			continue
		}

		lc, err := p.materialize(ctx, ownerID, r.Handle)
		p.fetcher.Release(r.Handle)
		if err == nil && lc.mediaID != "" {
			// The media store has its own copy now. Jobs still holding a
			// lease keep the file until they release it.
			p.fetcher.Revoke(r.Handle.ID)
		}
		if err != nil {
			stats.Failed++
			payload.Meta.Warnings = append(payload.Meta.Warnings, fmt.Sprintf("could not store %s: %v", r.URL, err))
			continue
		}
		replaced[r.URL] = lc
		stats.Localized++
	}

	for i := range payload.Overlays {
		o := &payload.Overlays[i]
		lc, ok := replaced[o.Src]
		if !ok {
			continue
		}
		if o.Meta == nil {
			o.Meta = make(map[string]interface{})
		}
		o.Meta["originalSrc"] = o.Src
		if lc.mediaID != "" {
			o.Meta["mediaId"] = lc.mediaID
		}
		o.Src = lc.src
	}

	return stats
}

type localCopy struct {
	src     string
	mediaID string
}

// materialize turns a cached download into the URL overlays should use.
// With an ingester the bytes are copied into the media store.
func (p *Pipeline) materialize(ctx context.Context, ownerID string, h *download.Handle) (localCopy, error) {
	if p.ingester == nil {
		return localCopy{src: h.ObjectURL}, nil
	}

	res, err := p.ingester.Ingest(ctx, ownerID, ingest.FromBlob(h), ingest.Options{
		Name:          sourceName(h.OriginalURL),
		SkipThumbnail: true,
	})
	if err != nil {
		return localCopy{}, err
	}

	id := res.Item.ID.String()
	return localCopy{src: p.MediaURL(id), mediaID: id}, nil
}

// MediaURL is where the API serves the bytes of a stored media item.
func (p *Pipeline) MediaURL(id string) string {
	return strings.TrimRight(p.cfg.MediaBaseURL, "/") + "/v1/media/" + id + "/content"
}

func isRemote(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func sourceName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	name := u.Path
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
