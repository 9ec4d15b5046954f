package media

import (
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

var (
	ffmpegOnce sync.Once
	ffmpegOK   bool
)

// ffmpegAvailable probes PATH once per process.
func ffmpegAvailable() bool {
	ffmpegOnce.Do(func() {
		_, err := exec.LookPath("ffmpeg")
		ffmpegOK = err == nil
		if ffmpegOK {
			slog.Info("ffmpeg found")
		} else {
			slog.Warn("ffmpeg not found; audio/video trimming disabled")
		}
	})
	return ffmpegOK
}

// trim shortens audio or video over maxDuration seconds. It returns the path
// to use afterwards, or "" when the file is over the limit and cannot be
// trimmed.
func trim(ctx context.Context, path string, maxDuration int) string {
	if maxDuration <= 0 {
		return path
	}
	if d := probeDuration(ctx, path); d <= float64(maxDuration) {
		return path
	}
	if !ffmpegAvailable() {
		slog.Warn("media over duration limit and ffmpeg unavailable", "path", path, "limit", maxDuration)
		return ""
	}

	ext := filepath.Ext(path)
	out := strings.TrimSuffix(path, ext) + "_trimmed" + ext
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", path, "-t", strconv.Itoa(maxDuration), "-c", "copy", out)
	if err := cmd.Run(); err != nil {
		slog.Warn("ffmpeg trim failed", "path", path, "error", err)
		return ""
	}
	return out
}

// probeDuration asks ffprobe for the duration in seconds, 0 when unknown.
// Unknown durations skip trimming rather than failing the pipeline.
func probeDuration(ctx context.Context, path string) float64 {
	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "quiet", "-print_format", "json", "-show_format", path).Output()
	if err != nil {
		slog.Warn("ffprobe failed", "path", path, "error", err)
		return 0
	}
	return parseDuration(out)
}

func parseDuration(out []byte) float64 {
	var info struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &info); err != nil {
		return 0
	}
	d, err := strconv.ParseFloat(info.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return d
}
