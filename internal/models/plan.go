package models

// GenerateEditPlan is the ordered segment plan produced by slot assembly.
// It is built once per run and not mutated afterwards.
type GenerateEditPlan struct {
	SongSlug            string        `json:"songSlug"`
	Fps                 float64       `json:"fps"`
	TotalFrames         int           `json:"totalFrames"`
	Seed                int64         `json:"seed"`
	SongDurationSeconds float64       `json:"songDurationSeconds,omitempty"`
	AspectRatio         string        `json:"aspectRatio,omitempty"`
	BackgroundColor     string        `json:"backgroundColor,omitempty"`
	SongURL             string        `json:"songUrl,omitempty"`
	FormatHash          string        `json:"formatHash,omitempty"`
	Warnings            []string      `json:"warnings,omitempty"`
	Segments            []PlanSegment `json:"segments"`
}

type PlanSegment struct {
	Index           int              `json:"index"`
	Slot            int              `json:"slot"`
	StartSeconds    float64          `json:"startSeconds"`
	EndSeconds      float64          `json:"endSeconds"`
	DurationSeconds float64          `json:"durationSeconds"`
	Asset           PlanAsset        `json:"asset"`
	BeatMetadata    PlanBeatMetadata `json:"beatMetadata"`
}

type PlanAsset struct {
	CloudinaryID    string  `json:"cloudinaryId,omitempty"`
	VideoID         string  `json:"videoId,omitempty"`
	IndexID         string  `json:"indexId,omitempty"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	DurationSeconds float64 `json:"durationSeconds"`
	LocalPath       string  `json:"localPath"`
}

// PlanBeatMetadata is fully resolved; no field needs a fallback downstream.
type PlanBeatMetadata struct {
	Intent            string           `json:"intent,omitempty"`
	ClipSlot          ResolvedClipSlot `json:"clipSlot"`
	BeatWindowSeconds float64          `json:"beatWindowSeconds"`
	IsRapid           bool             `json:"isRapid"`
	GuidelineTags     []string         `json:"guidelineTags,omitempty"`
}
