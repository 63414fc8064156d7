package timeline

import (
	"fmt"
	"log"
	"math"

	"github.com/bobarin/beatcut/internal/models"
)

const (
	DefaultAspectRatio     = "9:16"
	DefaultBackgroundColor = "#000000"
)

// Options carries what the plan itself does not know about the output.
type Options struct {
	JobID     string
	ProjectID string
	RenderURL string

	// SongURL overrides the plan's song URL when set.
	SongURL string

	// AspectRatio and BackgroundColor apply when the plan has none.
	AspectRatio     string
	BackgroundColor string

	// LeadInFrames of silence before the first clip.
	LeadInFrames int

	// FreezeSegments lists segment indexes to hold on their last frame.
	FreezeSegments map[int]bool

	// Warnings are appended after the plan's own warnings.
	Warnings []string
}

type bucket int

const (
	bucketMutedOrRapid bucket = iota
	bucketPaused
	bucketAudible
	bucketCount
)

func bucketFor(md models.PlanBeatMetadata) bucket {
	switch {
	case md.IsRapid || md.ClipSlot.ClipVolume <= 0:
		return bucketMutedOrRapid
	case md.ClipSlot.PauseMusic:
		return bucketPaused
	default:
		return bucketAudible
	}
}

// Build lays the plan out as an import payload. The plan is not modified.
func Build(plan *models.GenerateEditPlan, opts Options) (*models.GenerateEditImportPayload, error) {
	if err := validate(plan); err != nil {
		return nil, err
	}
	if opts.LeadInFrames < 0 {
		return nil, &InvalidPlanError{Index: -1, Reason: "lead-in must not be negative"}
	}

	fps := plan.Fps
	leadIn := float64(opts.LeadInFrames) / fps

	placements, final := Place(plan.Segments, leadIn)

	songDuration := plan.SongDurationSeconds
	if songDuration <= 0 {
		songDuration = final.Song
	}
	slices := SliceAudio(placements, songDuration, leadIn)

	rows := assignRows(plan.Segments)
	audioRow := 0
	for _, r := range rows {
		if r+1 > audioRow {
			audioRow = r + 1
		}
	}

	overlays := make([]models.Overlay, 0, len(placements)+len(slices))

	lastVideoEnd := 0
	for i, p := range placements {
		seg := plan.Segments[i]
		from, duration := frameSpan(p.TimelineStart, p.TimelineEnd, fps, lastVideoEnd)
		lastVideoEnd = from + duration

		o := videoOverlay(seg, rows[i], from, duration)
		if opts.FreezeSegments[i] {
			o = FreezeLastFrame(o, seg.Asset.Start+seg.Asset.DurationSeconds, fps)
		}
		overlays = append(overlays, o)
	}

	songURL := plan.SongURL
	if opts.SongURL != "" {
		songURL = opts.SongURL
	}

	lastAudioEnd := 0
	for i, s := range slices {
		from, duration := frameSpan(s.TimelineStart, s.TimelineEnd(), fps, lastAudioEnd)
		lastAudioEnd = from + duration

		overlays = append(overlays, models.Overlay{
			ID:               fmt.Sprintf("audio-%d", i),
			Type:             models.OverlayTypeSound,
			Row:              audioRow,
			From:             from,
			DurationInFrames: duration,
			Src:              songURL,
			Content:          plan.SongSlug,
			StartFromSound:   int(math.Round(s.SongOffset * fps)),
			Styles:           models.OverlayStyles{Volume: models.DefaultMusicVolume},
			Meta: map[string]interface{}{
				"sliceIndex":        i,
				"songOffsetSeconds": s.SongOffset,
				"durationSeconds":   s.Duration,
			},
		})
	}

	total := plan.TotalFrames
	if lastVideoEnd > total {
		total = lastVideoEnd
	}
	if lastAudioEnd > total {
		total = lastAudioEnd
	}

	warnings := make([]string, 0, len(plan.Warnings)+len(opts.Warnings))
	warnings = append(warnings, plan.Warnings...)
	warnings = append(warnings, opts.Warnings...)

	payload := &models.GenerateEditImportPayload{
		Overlays:         overlays,
		AspectRatio:      firstNonEmpty(plan.AspectRatio, opts.AspectRatio, DefaultAspectRatio),
		BackgroundColor:  firstNonEmpty(plan.BackgroundColor, opts.BackgroundColor, DefaultBackgroundColor),
		Fps:              fps,
		DurationInFrames: total,
		Meta: models.PayloadMeta{
			JobID:     opts.JobID,
			SongSlug:  plan.SongSlug,
			ProjectID: opts.ProjectID,
			RenderURL: opts.RenderURL,
			SongURL:   songURL,
			Warnings:  warnings,
		},
	}

	log.Printf("[Timeline] Built %d video + %d audio overlays for %s (overhang=%.3fs, frames=%d)",
		len(placements), len(slices), plan.SongSlug, final.Overhang, total)

	return payload, nil
}

// assignRows gives each present bucket its own row, in priority order.
func assignRows(segments []models.PlanSegment) []int {
	var present [bucketCount]bool
	buckets := make([]bucket, len(segments))
	for i, seg := range segments {
		buckets[i] = bucketFor(seg.BeatMetadata)
		present[buckets[i]] = true
	}

	var rowOf [bucketCount]int
	next := 0
	for b := bucket(0); b < bucketCount; b++ {
		if present[b] {
			rowOf[b] = next
			next++
		}
	}

	rows := make([]int, len(segments))
	for i, b := range buckets {
		rows[i] = rowOf[b]
	}
	return rows
}

// frameSpan converts [start, end) seconds to frames. Adjacent spans share
// their boundary frame; notBefore keeps a span from starting inside the
// previous one and every span is at least one frame long.
func frameSpan(start, end, fps float64, notBefore int) (from, duration int) {
	from = int(math.Round(start * fps))
	if from < notBefore {
		from = notBefore
	}
	to := int(math.Round(end * fps))
	if to <= from {
		to = from + 1
	}
	return from, to - from
}

func videoOverlay(seg models.PlanSegment, row, from, duration int) models.Overlay {
	md := seg.BeatMetadata
	candidate := models.ClipCandidate{
		CloudinaryID: seg.Asset.CloudinaryID,
		VideoID:      seg.Asset.VideoID,
		IndexID:      seg.Asset.IndexID,
	}

	meta := map[string]interface{}{
		"segmentIndex":      seg.Index,
		"slot":              seg.Slot,
		"sourceId":          candidate.SourceID(),
		"localPath":         seg.Asset.LocalPath,
		"isRapid":           md.IsRapid,
		"pauseMusic":        md.ClipSlot.PauseMusic,
		"musicVolume":       md.ClipSlot.MusicVolume,
		"beatWindowSeconds": md.BeatWindowSeconds,
	}
	if md.Intent != "" {
		meta["intent"] = md.Intent
	}
	if len(md.GuidelineTags) > 0 {
		meta["guidelineTags"] = md.GuidelineTags
	}

	return models.Overlay{
		ID:               fmt.Sprintf("video-%d", seg.Index),
		Type:             models.OverlayTypeVideo,
		Row:              row,
		From:             from,
		DurationInFrames: duration,
		Src:              seg.Asset.LocalPath,
		Content:          candidate.SourceID(),
		VideoStartTime:   seg.Asset.Start,
		MediaSrcDuration: seg.Asset.DurationSeconds,
		Styles: models.OverlayStyles{
			Volume:    md.ClipSlot.ClipVolume,
			ObjectFit: "cover",
		},
		Meta: meta,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
