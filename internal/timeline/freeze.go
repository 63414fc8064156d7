package timeline

import "github.com/bobarin/beatcut/internal/models"

// FreezeLastFrame points a video overlay at the last frame of a source that
// is sourceDuration seconds long and limits playback to that single frame,
// so the clip holds still for its whole duration on the timeline.
func FreezeLastFrame(o models.Overlay, sourceDuration, fps float64) models.Overlay {
	if fps <= 0 || sourceDuration <= 0 {
		return o
	}
	frame := 1 / fps
	start := sourceDuration - frame
	if start < 0 {
		start = 0
	}
	o.VideoStartTime = start
	o.MediaSrcDuration = frame
	if o.Meta == nil {
		o.Meta = map[string]interface{}{}
	}
	o.Meta["frozen"] = true
	return o
}
