// Package media downloads, trims, and transcribes message attachments in the
// background so the dispatch queue never waits on a file.
package media

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/antlerlab/antlerbot/internal/onebot"
	"github.com/antlerlab/antlerbot/internal/providers"
)

// Result is the outcome of one background media job.
type Result struct {
	Text  string                  // replaces the loading placeholder
	Block *providers.ImageContent // set when the payload rides to the model
}

// Task tracks one in-flight background job spawned during parsing.
// PlaceholderTag is the exact substring present in the display text; Resolve
// substitutes it with the job's result.
type Task struct {
	PlaceholderID  string
	MediaType      string // "image", "audio", "video", "document"
	Filename       string
	PlaceholderTag string
	Passthrough    bool
	Result         <-chan Result
}

// TagFor returns the XML tag used for a media type in rendered text.
func TagFor(mediaType string) string {
	if mediaType == "document" {
		return "file"
	}
	return mediaType
}

// FilenameAttr renders the optional filename attribute, empty when unknown.
func FilenameAttr(filename string) string {
	if filename == "" {
		return ""
	}
	return fmt.Sprintf(" filename=%q", filename)
}

// Filename extracts the display filename from a media segment.
func Filename(seg onebot.Segment) string {
	if name := seg.Str("file_name"); name != "" {
		return name
	}
	return seg.Str("file")
}

func mimeFor(mediaType string) string {
	switch mediaType {
	case "image":
		return "image/png"
	case "audio":
		return "audio/mpeg"
	case "video":
		return "video/mp4"
	}
	return "application/octet-stream"
}

func placeholderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func newTask(mediaType, filename string, passthrough bool) Task {
	return Task{
		PlaceholderID:  placeholderID(),
		MediaType:      mediaType,
		Filename:       filename,
		PlaceholderTag: fmt.Sprintf(`<%s status="loading"%s />`, TagFor(mediaType), FilenameAttr(filename)),
		Passthrough:    passthrough,
	}
}
