package models

import "fmt"

// SlotFile is the upstream-produced list of timeline slots and their
// candidate clip pools.
type SlotFile struct {
	Header   SlotHeader    `json:"header"`
	Segments []SlotSegment `json:"segments"`
}

type SlotHeader struct {
	Fps        float64 `json:"fps,omitempty"`
	FormatHash string  `json:"formatHash,omitempty"`
}

type SlotSegment struct {
	Slot           int             `json:"slot"`
	TargetDuration float64         `json:"targetDuration"`
	BeatMetadata   *SlotBeatInfo   `json:"beatMetadata,omitempty"`
	Candidates     []ClipCandidate `json:"candidates"`
}

// SlotBeatInfo is beat metadata embedded directly in a slot. When present it
// wins over the metadata derived from the song format.
type SlotBeatInfo struct {
	Intent            string    `json:"intent,omitempty"`
	ClipSlot          *ClipSlot `json:"clipSlot,omitempty"`
	BeatWindowSeconds *float64  `json:"beatWindowSeconds,omitempty"`
	IsRapid           *bool     `json:"isRapid,omitempty"`
	GuidelineTags     []string  `json:"guidelineTags,omitempty"`
}

// ClipCandidate is one eligible source clip with in/out points.
type ClipCandidate struct {
	CloudinaryID    string  `json:"cloudinaryId,omitempty"`
	VideoID         string  `json:"videoId,omitempty"`
	IndexID         string  `json:"indexId,omitempty"`
	Start           float64 `json:"start"`
	End             float64 `json:"end"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// SourceID identifies the source clip regardless of in/out points.
func (c ClipCandidate) SourceID() string {
	switch {
	case c.CloudinaryID != "":
		return "cloudinary:" + c.CloudinaryID
	case c.VideoID != "":
		return "video:" + c.VideoID
	case c.IndexID != "":
		return "index:" + c.IndexID
	}
	return ""
}

// ContentKey identifies the exact trimmed clip used for local file lookup.
func (c ClipCandidate) ContentKey() string {
	return ClipKey(c.CloudinaryID, c.VideoID, c.IndexID, c.Start, c.End)
}

func ClipKey(cloudinaryID, videoID, indexID string, start, end float64) string {
	return fmt.Sprintf("%s|%s|%s|%.3f|%.3f", cloudinaryID, videoID, indexID, start, end)
}

// ClipIndexFile maps materialized clips to files on disk.
type ClipIndexFile struct {
	Entries []ClipIndexEntry `json:"entries"`
}

type ClipIndexEntry struct {
	CloudinaryID string  `json:"cloudinaryId,omitempty"`
	VideoID      string  `json:"videoId,omitempty"`
	IndexID      string  `json:"indexId,omitempty"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	LocalPath    string  `json:"localPath"`
}

func (e ClipIndexEntry) Key() string {
	return ClipKey(e.CloudinaryID, e.VideoID, e.IndexID, e.Start, e.End)
}
