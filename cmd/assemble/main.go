// Command assemble builds the edit payload for one song offline, without
// the database or queue.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/bobarin/beatcut/internal/config"
	"github.com/bobarin/beatcut/internal/download"
	"github.com/bobarin/beatcut/internal/edit"
	"github.com/bobarin/beatcut/internal/library"
	"github.com/bobarin/beatcut/internal/slotplan"
	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

func main() {
	cfg, err := config.LoadLocal()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var (
		slug      = flag.String("slug", "", "song slug to assemble (required)")
		seed      = flag.Int64("seed", -1, "selection seed; negative draws a random one")
		dataDir   = flag.String("data", cfg.DataDir, "data directory with formats/, slots/ and clip-index/")
		out       = flag.String("out", "", "write the payload here instead of stdout")
		planOut   = flag.String("plan-out", "", "also write the plan to this file")
		songURL   = flag.String("song-url", "", "override the song URL")
		renderURL = flag.String("render-url", "", "URL recorded as meta.renderUrl")
		projectID = flag.String("project", "", "project id recorded in the payload")
		leadIn    = flag.Int("lead-in", cfg.LeadInFrames, "frames of lead-in before the first clip")
		freeze    = flag.String("freeze", "", "comma-separated segment indexes to hold on their last frame")
		localize  = flag.Bool("localize", false, "download remote media next to the payload")
		cacheDir  = flag.String("cache-dir", cfg.CacheDir, "where localized media is kept (default <data>/cache)")
	)
	flag.Parse()

	if *slug == "" {
		flag.Usage()
		os.Exit(2)
	}

	freezeSet, err := parseIndexes(*freeze)
	if err != nil {
		log.Fatalf("Invalid -freeze: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var fetcher edit.Fetcher
	if *localize {
		dir := *cacheDir
		if dir == "" {
			dir = filepath.Join(*dataDir, "cache")
		}
		// Not closed on exit: the payload points at these files.
		m, err := download.NewManager(download.Options{CacheDir: dir, CapBytes: cfg.DownloadCapBytes})
		if err != nil {
			log.Fatalf("Failed to create download cache: %v", err)
		}
		fetcher = m
	}

	pipeline := edit.New(slotplan.NewAssembler(library.New(*dataDir)), fetcher, nil, edit.Config{
		AspectRatio:         cfg.AspectRatio,
		BackgroundColor:     cfg.BackgroundColor,
		LeadInFrames:        *leadIn,
		DownloadConcurrency: cfg.DownloadConcurrency,
	})

	req := edit.Request{
		JobID:          "local-" + *slug,
		SongSlug:       *slug,
		ProjectID:      *projectID,
		SongURL:        *songURL,
		RenderURL:      *renderURL,
		FreezeSegments: freezeSet,
	}
	if *seed >= 0 {
		req.Seed = seed
	}

	res, err := pipeline.Run(ctx, req)
	if err != nil {
		log.Fatalf("Failed to assemble %s: %v", *slug, err)
	}
	log.Printf("Assembled %s: %d segments, seed %d, %d frames", *slug, len(res.Plan.Segments), res.Plan.Seed, res.Payload.DurationInFrames)

	if *localize {
		srcs := edit.RemoteSources(res.Payload)
		bar := progressbar.NewOptions(
			len(srcs),
			progressbar.OptionSetWriter(ansi.NewAnsiStderr()),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionFullWidth(),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("[cyan]Localizing media...[reset]"),
		)
		stats := pipeline.Localize(ctx, res.Payload, "", func(download.Result) {
			bar.Add(1)
		})
		bar.Finish()
		fmt.Fprintln(os.Stderr)
		log.Printf("Localized %d/%d sources (%d failed)", stats.Localized, stats.Requested, stats.Failed)
	}

	for _, w := range res.Payload.Meta.Warnings {
		log.Printf("WARNING: %s", w)
	}

	if *planOut != "" {
		if err := writeJSON(*planOut, res.Plan); err != nil {
			log.Fatalf("Failed to write plan: %v", err)
		}
	}
	if err := writeJSON(*out, res.Payload); err != nil {
		log.Fatalf("Failed to write payload: %v", err)
	}
}

// writeJSON writes v indented to path, or to stdout when path is empty.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func parseIndexes(s string) (map[int]bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	set := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || i < 0 {
			return nil, fmt.Errorf("bad segment index %q", part)
		}
		set[i] = true
	}
	return set, nil
}
