package library

import "github.com/bobarin/beatcut/internal/models"

// ClipIndex answers "where is this exact clip on disk", consulting the
// per-song index before the shared pool.
type ClipIndex struct {
	song   map[string]string
	shared map[string]string
}

func NewClipIndex(song, shared []models.ClipIndexEntry) *ClipIndex {
	return &ClipIndex{
		song:   indexEntries(song),
		shared: indexEntries(shared),
	}
}

func indexEntries(entries []models.ClipIndexEntry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		if e.LocalPath == "" {
			continue
		}
		m[e.Key()] = e.LocalPath
	}
	return m
}

// Lookup returns the local path for candidate, if materialized.
func (i *ClipIndex) Lookup(c models.ClipCandidate) (string, bool) {
	if i == nil {
		return "", false
	}
	key := c.ContentKey()
	if p, ok := i.song[key]; ok {
		return p, true
	}
	p, ok := i.shared[key]
	return p, ok
}

func (i *ClipIndex) Len() int {
	if i == nil {
		return 0
	}
	return len(i.song) + len(i.shared)
}
