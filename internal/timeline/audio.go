package timeline

import "sort"

// AudioSlice is one contiguous run of the song on the output timeline.
type AudioSlice struct {
	TimelineStart float64 // seconds on the output timeline
	SongOffset    float64 // seconds into the song
	Duration      float64
}

func (s AudioSlice) TimelineEnd() float64 {
	return s.TimelineStart + s.Duration
}

// SliceAudio splits a song of songDuration seconds into slices that stop
// while paused segments overhang their beat windows. The song pointer never
// moves during an overhang; the timeline does. The slice durations always
// add up to songDuration.
func SliceAudio(placements []Placement, songDuration, leadIn float64) []AudioSlice {
	if songDuration <= 0 {
		return nil
	}

	var pauses []Placement
	for _, p := range placements {
		if p.Pause && p.Overhang > 0 {
			pauses = append(pauses, p)
		}
	}
	sort.SliceStable(pauses, func(i, j int) bool {
		return pauses[i].TimelineStart < pauses[j].TimelineStart
	})

	var slices []AudioSlice
	songPointer, timelineCursor := 0.0, leadIn

	emit := func(length float64) {
		if remaining := songDuration - songPointer; length > remaining {
			length = remaining
		}
		if length <= 0 {
			return
		}
		slices = append(slices, AudioSlice{
			TimelineStart: timelineCursor,
			SongOffset:    songPointer,
			Duration:      length,
		})
		songPointer += length
		timelineCursor += length
	}

	for _, p := range pauses {
		emit(p.SongStart + p.BeatWindow - songPointer)
		timelineCursor += p.Overhang
	}
	emit(songDuration - songPointer)

	return slices
}
