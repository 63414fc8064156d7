// Package slotplan picks one clip per timeline slot and lays the picks out
// as an ordered, internally consistent segment plan.
package slotplan

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/bobarin/beatcut/internal/library"
	"github.com/bobarin/beatcut/internal/models"
)

const (
	// DurationEpsilon is how far a candidate's duration may drift from the
	// slot's target and still count as a match.
	DurationEpsilon = 0.01

	DefaultFps = 30.0
)

// Source provides the inputs for one slug. *library.Library implements it.
type Source interface {
	LoadFormat(slug string) (*models.SongFormat, error)
	LoadSlots(slug string) (*models.SlotFile, error)
	LoadClipIndex(slug string) (*library.ClipIndex, error)
}

type Assembler struct {
	source Source
}

func NewAssembler(source Source) *Assembler {
	return &Assembler{source: source}
}

// Input is everything Plan needs, already loaded.
type Input struct {
	Slug   string
	Format *models.SongFormat
	Slots  *models.SlotFile
	Index  *library.ClipIndex
}

// Assemble loads the inputs for slug and builds its plan. A nil seed draws
// a fresh one; the seed used is recorded on the plan either way.
func (a *Assembler) Assemble(ctx context.Context, slug string, seed *int64) (*models.GenerateEditPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	format, err := a.source.LoadFormat(slug)
	if err != nil {
		return nil, err
	}
	slots, err := a.source.LoadSlots(slug)
	if err != nil {
		return nil, err
	}
	index, err := a.source.LoadClipIndex(slug)
	if err != nil {
		return nil, err
	}

	s := rand.Int63() & math.MaxInt32
	if seed != nil {
		s = *seed
	}

	return Plan(Input{Slug: slug, Format: format, Slots: slots, Index: index}, s)
}

// Plan is the pure part of assembly. Any error aborts the whole plan.
func Plan(in Input, seed int64) (*models.GenerateEditPlan, error) {
	if in.Format == nil || in.Slots == nil {
		return nil, &library.ConfigurationError{Slug: in.Slug, Reason: "format and slot file are required"}
	}

	plan := &models.GenerateEditPlan{
		SongSlug:            in.Slug,
		Fps:                 resolveFps(in.Slots, in.Format),
		Seed:                seed,
		SongDurationSeconds: in.Format.Meta.DurationSeconds,
		AspectRatio:         in.Format.Meta.AspectRatio,
		BackgroundColor:     in.Format.Meta.BackgroundColor,
		SongURL:             in.Format.Meta.AudioURL,
	}

	currentHash, err := FormatHash(in.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to hash song format: %w", err)
	}
	plan.FormatHash = currentHash
	if recorded := in.Slots.Header.FormatHash; recorded != "" && !hashesEqual(recorded, currentHash) {
		warning := fmt.Sprintf("slot file for %s was built from a different format (hash %s, current %s); slots may be stale",
			in.Slug, recorded, currentHash)
		log.Printf("[Assembler] WARNING: %s", warning)
		plan.Warnings = append(plan.Warnings, warning)
	}

	base := in.Format.BaseSegments()
	rng := NewRNG(seed)

	var (
		cursorSeconds float64
		lastPickedID  string
	)
	plan.Segments = make([]models.PlanSegment, 0, len(in.Slots.Segments))

	for i, slot := range in.Slots.Segments {
		matching := FilterCandidates(slot.Candidates, slot.TargetDuration)
		if len(matching) == 0 {
			return nil, &CandidateExhaustionError{
				Slot:           slot.Slot,
				TargetDuration: slot.TargetDuration,
				Available:      len(slot.Candidates),
			}
		}

		chosen := ChooseCandidate(rng, matching, lastPickedID)
		lastPickedID = chosen.SourceID()

		localPath, ok := in.Index.Lookup(chosen)
		if !ok {
			return nil, &LocalAssetMissingError{Slot: slot.Slot, SourceID: chosen.SourceID(), Key: chosen.ContentKey()}
		}

		var baseSeg *models.BaseSegment
		if i < len(base) {
			baseSeg = &base[i]
		}

		start := cursorSeconds
		cursorSeconds += slot.TargetDuration

		plan.Segments = append(plan.Segments, models.PlanSegment{
			Index:           i,
			Slot:            slot.Slot,
			StartSeconds:    start,
			EndSeconds:      cursorSeconds,
			DurationSeconds: slot.TargetDuration,
			Asset: models.PlanAsset{
				CloudinaryID:    chosen.CloudinaryID,
				VideoID:         chosen.VideoID,
				IndexID:         chosen.IndexID,
				Start:           chosen.Start,
				End:             chosen.End,
				DurationSeconds: chosen.DurationSeconds,
				LocalPath:       localPath,
			},
			BeatMetadata: ResolveBeatMetadata(slot, baseSeg),
		})
	}

	plan.TotalFrames = int(math.Round(cursorSeconds * plan.Fps))

	log.Printf("[Assembler] Planned %d segments for %s (seed=%d, fps=%g, totalFrames=%d)",
		len(plan.Segments), in.Slug, seed, plan.Fps, plan.TotalFrames)

	return plan, nil
}

// FilterCandidates keeps candidates whose duration matches target within
// DurationEpsilon. There is no relaxation when nothing matches.
func FilterCandidates(candidates []models.ClipCandidate, target float64) []models.ClipCandidate {
	var out []models.ClipCandidate
	for _, c := range candidates {
		if math.Abs(c.DurationSeconds-target) <= DurationEpsilon {
			out = append(out, c)
		}
	}
	return out
}

// ChooseCandidate picks uniformly from candidates, skipping the source clip
// picked for the previous slot when anything else is available. candidates
// must be non-empty.
func ChooseCandidate(rng *RNG, candidates []models.ClipCandidate, lastPickedID string) models.ClipCandidate {
	pool := candidates
	if lastPickedID != "" {
		filtered := make([]models.ClipCandidate, 0, len(candidates))
		for _, c := range candidates {
			if c.SourceID() != lastPickedID {
				filtered = append(filtered, c)
			}
		}
		if len(filtered) > 0 {
			pool = filtered
		}
	}
	return pool[rng.Intn(len(pool))]
}

// ResolveBeatMetadata merges metadata embedded in the slot over the base
// segment at the same index. Missing everything falls back to defaults with
// the slot's own duration as its beat window.
func ResolveBeatMetadata(slot models.SlotSegment, base *models.BaseSegment) models.PlanBeatMetadata {
	md := models.PlanBeatMetadata{
		ClipSlot:          (*models.ClipSlot)(nil).Resolve(),
		BeatWindowSeconds: slot.TargetDuration,
	}
	if base != nil {
		md.Intent = base.Intent
		md.ClipSlot = base.ClipSlot
		md.BeatWindowSeconds = base.BeatWindowSeconds
		md.IsRapid = base.IsRapid
		md.GuidelineTags = base.GuidelineTags
	}

	embedded := slot.BeatMetadata
	if embedded == nil {
		return md
	}
	if embedded.Intent != "" {
		md.Intent = embedded.Intent
	}
	if embedded.ClipSlot != nil {
		md.ClipSlot = embedded.ClipSlot.ResolveOnto(md.ClipSlot)
	}
	if embedded.BeatWindowSeconds != nil {
		md.BeatWindowSeconds = *embedded.BeatWindowSeconds
	}
	if embedded.IsRapid != nil {
		md.IsRapid = *embedded.IsRapid
	}
	if len(embedded.GuidelineTags) > 0 {
		md.GuidelineTags = embedded.GuidelineTags
	}
	return md
}

func resolveFps(slots *models.SlotFile, format *models.SongFormat) float64 {
	if slots.Header.Fps > 0 {
		return slots.Header.Fps
	}
	if format.Meta.TargetFps > 0 {
		return format.Meta.TargetFps
	}
	return DefaultFps
}
