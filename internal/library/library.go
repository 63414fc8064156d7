// Package library loads song formats, slot files and clip indexes from the
// data directory. Everything is read once per run, before any scheduling.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/bobarin/beatcut/internal/models"
)

const sharedIndexName = "shared"

var ErrNotFound = errors.New("not found")

// ConfigurationError reports a missing slug or a missing/unreadable input
// file. It is fatal and never retried.
type ConfigurationError struct {
	Slug   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error for song %q: %s: %v", e.Slug, e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error for song %q: %s", e.Slug, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Library reads the on-disk layout:
//
//	<root>/formats/<slug>.json
//	<root>/slots/<slug>.json
//	<root>/clip-index/<slug>.json
//	<root>/clip-index/shared.json
type Library struct {
	root string
}

func New(root string) *Library {
	return &Library{root: root}
}

func (l *Library) Root() string {
	return l.root
}

// LoadFormat reads the song format for slug.
func (l *Library) LoadFormat(slug string) (*models.SongFormat, error) {
	if err := validateSlug(slug); err != nil {
		return nil, err
	}

	var format models.SongFormat
	if err := l.readJSON(filepath.Join(l.root, "formats", slug+".json"), &format); err != nil {
		return nil, &ConfigurationError{Slug: slug, Reason: "song format unavailable", Err: err}
	}
	if len(format.BeatGrid) == 0 {
		return nil, &ConfigurationError{Slug: slug, Reason: "song format has an empty beat grid"}
	}
	return &format, nil
}

// LoadSlots reads the slot file for slug.
func (l *Library) LoadSlots(slug string) (*models.SlotFile, error) {
	if err := validateSlug(slug); err != nil {
		return nil, err
	}

	var slots models.SlotFile
	if err := l.readJSON(filepath.Join(l.root, "slots", slug+".json"), &slots); err != nil {
		return nil, &ConfigurationError{Slug: slug, Reason: "slot file unavailable", Err: err}
	}
	if len(slots.Segments) == 0 {
		return nil, &ConfigurationError{Slug: slug, Reason: "slot file has no segments"}
	}
	return &slots, nil
}

// LoadClipIndex reads the per-song index and the shared pool. Either file
// may be absent; an absent file is an empty index.
func (l *Library) LoadClipIndex(slug string) (*ClipIndex, error) {
	if err := validateSlug(slug); err != nil {
		return nil, err
	}

	song, err := l.readIndex(slug)
	if err != nil {
		return nil, &ConfigurationError{Slug: slug, Reason: "clip index unreadable", Err: err}
	}
	shared, err := l.readIndex(sharedIndexName)
	if err != nil {
		return nil, &ConfigurationError{Slug: slug, Reason: "shared clip index unreadable", Err: err}
	}
	return NewClipIndex(song, shared), nil
}

func (l *Library) readIndex(name string) ([]models.ClipIndexEntry, error) {
	var file models.ClipIndexFile
	err := l.readJSON(filepath.Join(l.root, "clip-index", name+".json"), &file)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return file.Entries, nil
}

func (l *Library) readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func validateSlug(slug string) error {
	if slug == "" {
		return &ConfigurationError{Slug: slug, Reason: "song slug is required"}
	}
	if !slugPattern.MatchString(slug) {
		return &ConfigurationError{Slug: slug, Reason: "song slug contains invalid characters"}
	}
	return nil
}
