package slotplan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/bobarin/beatcut/internal/models"
)

// FormatHash fingerprints the parts of a song format that slots are built
// from.
func FormatHash(f *models.SongFormat) (string, error) {
	canonical := struct {
		BeatGrid        []float64             `json:"beatGrid"`
		BeatMetadata    []models.BeatMetadata `json:"beatMetadata"`
		RapidClipRanges []models.RapidRange   `json:"rapidClipRanges"`
		Meta            models.SongMeta       `json:"meta"`
	}{f.BeatGrid, f.BeatMetadata, f.RapidClipRanges, f.Meta}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func hashesEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
