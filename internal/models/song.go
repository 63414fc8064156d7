package models

// SongFormat is the beat-annotated description of a song. It is owned by the
// format editor and only ever read here.
type SongFormat struct {
	BeatGrid        []float64      `json:"beatGrid"`
	BeatMetadata    []BeatMetadata `json:"beatMetadata"`
	RapidClipRanges []RapidRange   `json:"rapidClipRanges"`
	Meta            SongMeta       `json:"meta"`
}

type SongMeta struct {
	TargetFps       float64 `json:"targetFps,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	AspectRatio     string  `json:"aspectRatio,omitempty"`
	AudioURL        string  `json:"audioUrl,omitempty"`
	BackgroundColor string  `json:"backgroundColor,omitempty"`
}

type BeatMetadata struct {
	Intent        string    `json:"intent,omitempty"`
	ClipSlot      *ClipSlot `json:"clipSlot,omitempty"`
	GuidelineTags []string  `json:"guidelineTags,omitempty"`
}

// ClipSlot carries the per-beat mixing instructions as written on the wire.
// Every field is optional; use Resolve to apply defaults.
type ClipSlot struct {
	ClipVolume  *float64 `json:"clipVolume,omitempty"`
	MusicVolume *float64 `json:"musicVolume,omitempty"`
	PauseMusic  *bool    `json:"pauseMusic,omitempty"`
}

type RapidRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Overlaps reports whether [start, end) intersects the range.
func (r RapidRange) Overlaps(start, end float64) bool {
	return start < r.End && end > r.Start
}

const (
	DefaultClipVolume  = 0.0
	DefaultMusicVolume = 1.0
)

// ResolvedClipSlot is a ClipSlot with every default applied.
type ResolvedClipSlot struct {
	ClipVolume  float64 `json:"clipVolume"`
	MusicVolume float64 `json:"musicVolume"`
	PauseMusic  bool    `json:"pauseMusic"`
}

// Resolve applies defaults. A nil receiver resolves to the defaults.
func (c *ClipSlot) Resolve() ResolvedClipSlot {
	return c.ResolveOnto(ResolvedClipSlot{
		ClipVolume:  DefaultClipVolume,
		MusicVolume: DefaultMusicVolume,
	})
}

// ResolveOnto overrides base with whichever fields are set.
func (c *ClipSlot) ResolveOnto(base ResolvedClipSlot) ResolvedClipSlot {
	r := base
	if c == nil {
		return r
	}
	if c.ClipVolume != nil {
		r.ClipVolume = *c.ClipVolume
	}
	if c.MusicVolume != nil {
		r.MusicVolume = *c.MusicVolume
	}
	if c.PauseMusic != nil {
		r.PauseMusic = *c.PauseMusic
	}
	return r
}

// BaseSegment is one beat window derived from the beat grid.
type BaseSegment struct {
	Index             int
	StartSeconds      float64
	EndSeconds        float64
	BeatWindowSeconds float64
	Intent            string
	ClipSlot          ResolvedClipSlot
	GuidelineTags     []string
	IsRapid           bool
}

// BaseSegments splits the beat grid into consecutive windows. The final
// window ends at meta.durationSeconds; when that is missing or not past the
// last beat the final beat produces no window.
func (f *SongFormat) BaseSegments() []BaseSegment {
	var out []BaseSegment
	for i, start := range f.BeatGrid {
		var end float64
		if i+1 < len(f.BeatGrid) {
			end = f.BeatGrid[i+1]
		} else {
			end = f.Meta.DurationSeconds
		}
		if end <= start {
			continue
		}

		seg := BaseSegment{
			Index:             len(out),
			StartSeconds:      start,
			EndSeconds:        end,
			BeatWindowSeconds: end - start,
			ClipSlot:          (*ClipSlot)(nil).Resolve(),
		}
		if i < len(f.BeatMetadata) {
			md := f.BeatMetadata[i]
			seg.Intent = md.Intent
			seg.ClipSlot = md.ClipSlot.Resolve()
			seg.GuidelineTags = md.GuidelineTags
		}
		for _, r := range f.RapidClipRanges {
			if r.Overlaps(start, end) {
				seg.IsRapid = true
				break
			}
		}
		out = append(out, seg)
	}
	return out
}
