package models

type OverlayType string

const (
	OverlayTypeVideo OverlayType = "video"
	OverlayTypeSound OverlayType = "sound"
)

// Overlay is one timeline item as the editor consumes it. Frame fields are
// in output-timeline frames.
type Overlay struct {
	ID               string                 `json:"id"`
	Type             OverlayType            `json:"type"`
	Row              int                    `json:"row"`
	From             int                    `json:"from"`
	DurationInFrames int                    `json:"durationInFrames"`
	Src              string                 `json:"src"`
	Content          string                 `json:"content,omitempty"`
	VideoStartTime   float64                `json:"videoStartTime,omitempty"`   // seconds into the source clip
	MediaSrcDuration float64                `json:"mediaSrcDuration,omitempty"` // seconds of source consumed
	StartFromSound   int                    `json:"startFromSound,omitempty"`   // frames into the source audio
	Styles           OverlayStyles          `json:"styles"`
	Meta             map[string]interface{} `json:"meta,omitempty"`
}

type OverlayStyles struct {
	Volume    float64 `json:"volume"`
	ObjectFit string  `json:"objectFit,omitempty"`
}

// End is the first frame after the overlay.
func (o Overlay) End() int {
	return o.From + o.DurationInFrames
}

// GenerateEditImportPayload is the sole wire contract with the editor.
type GenerateEditImportPayload struct {
	Overlays         []Overlay   `json:"overlays"`
	AspectRatio      string      `json:"aspectRatio"`
	BackgroundColor  string      `json:"backgroundColor"`
	Fps              float64     `json:"fps"`
	DurationInFrames int         `json:"durationInFrames"`
	Meta             PayloadMeta `json:"meta"`
}

type PayloadMeta struct {
	JobID     string   `json:"jobId"`
	SongSlug  string   `json:"songSlug"`
	ProjectID string   `json:"projectId,omitempty"`
	RenderURL string   `json:"renderUrl,omitempty"`
	SongURL   string   `json:"songUrl"`
	Warnings  []string `json:"warnings"`
}
