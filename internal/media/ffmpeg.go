// Package media wraps the ffprobe and ffmpeg binaries.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// thumbnailWidth is the width thumbnails are scaled to; height follows the
// source aspect ratio.
const thumbnailWidth = 320

// Info is what ffprobe tells us about a file.
type Info struct {
	DurationSeconds float64
	Width           int
	Height          int
	Fps             float64
	HasVideo        bool
	HasAudio        bool
}

type FFmpegService struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegService looks both binaries up on PATH. A missing binary is not
// an error here; the calls that need it fail instead.
func NewFFmpegService() *FFmpegService {
	s := &FFmpegService{ffmpegPath: "ffmpeg", ffprobePath: "ffprobe"}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		s.ffmpegPath = p
	} else {
		log.Printf("[FFmpeg] WARNING: ffmpeg not found in PATH, thumbnails disabled")
	}
	if p, err := exec.LookPath("ffprobe"); err == nil {
		s.ffprobePath = p
	} else {
		log.Printf("[FFmpeg] WARNING: ffprobe not found in PATH, duration probing disabled")
	}
	return s
}

// Probe runs ffprobe over path.
func (s *FFmpegService) Probe(ctx context.Context, path string) (*Info, error) {
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, s.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(output)
}

// ProbeDuration returns the duration of a media file in seconds.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	info, err := s.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if info.DurationSeconds <= 0 {
		return 0, fmt.Errorf("ffprobe reported no duration for %s", filepath.Base(path))
	}
	return info.DurationSeconds, nil
}

// ExtractThumbnail grabs one frame at atSeconds as a JPEG. Images are
// decoded and re-encoded the same way.
func (s *FFmpegService) ExtractThumbnail(ctx context.Context, path string, atSeconds float64) ([]byte, error) {
	args := []string{"-hide_banner", "-loglevel", "error"}
	if atSeconds > 0 {
		args = append(args, "-ss", strconv.FormatFloat(atSeconds, 'f', 3, 64))
	}
	args = append(args,
		"-i", path,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", thumbnailWidth),
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg thumbnail failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced an empty thumbnail for %s", filepath.Base(path))
	}
	return stdout.Bytes(), nil
}

// ThumbnailDataURL is ExtractThumbnail encoded as a data URL.
func (s *FFmpegService) ThumbnailDataURL(ctx context.Context, path string, atSeconds float64) (string, error) {
	jpeg, err := s.ExtractThumbnail(ctx, path, atSeconds)
	if err != nil {
		return "", err
	}
	return JPEGDataURL(jpeg), nil
}

func JPEGDataURL(jpeg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

func parseProbe(output []byte) (*Info, error) {
	var probe probeResult
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &Info{}
	if d, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.DurationSeconds = d
	}

	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			info.HasVideo = true
			info.Width = stream.Width
			info.Height = stream.Height
			info.Fps = parseFrameRate(stream.RFrameRate)
		case "audio":
			info.HasAudio = true
		}
		// Some containers only carry duration on the stream.
		if info.DurationSeconds <= 0 {
			if d, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
				info.DurationSeconds = d
			}
		}
	}
	return info, nil
}

// parseFrameRate parses "30000/1001" or "25".
func parseFrameRate(s string) float64 {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
