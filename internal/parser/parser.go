// Package parser renders OneBot message segments into the text the model
// sees. Heavy attachments become loading placeholders backed by background
// media jobs; light ones are handled inline.
package parser

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/antlerlab/antlerbot/internal/config"
	"github.com/antlerlab/antlerbot/internal/media"
	"github.com/antlerlab/antlerbot/internal/onebot"
	"github.com/antlerlab/antlerbot/internal/providers"
)

// ParsedMessage is the rendered form of one incoming message.
type ParsedMessage struct {
	Text          string
	MediaTasks    []media.Task
	ContentBlocks []providers.ImageContent
}

// MessageAPI fetches referenced messages for reply rendering.
type MessageAPI interface {
	GetMsg(ctx context.Context, messageID int64) (*onebot.Message, error)
}

// ContactDirectory resolves friend remarks for mentions.
type ContactDirectory interface {
	Remark(userID int64) string
}

// MediaRunner runs the media pipelines, inline or in the background.
type MediaRunner interface {
	ProcessSegment(ctx context.Context, seg onebot.Segment, mediaType, sourceType, sourceID string) string
	PassthroughSegment(ctx context.Context, seg onebot.Segment, mediaType, sourceType, sourceID string) (*providers.ImageContent, error)
	StartTranscribe(ctx context.Context, seg onebot.Segment, mediaType, sourceType, sourceID string) media.Task
	StartPassthrough(ctx context.Context, seg onebot.Segment, mediaType, sourceType, sourceID string) media.Task
}

// Config wires a Parser.
type Config struct {
	API      MessageAPI
	Contacts ContactDirectory
	Media    MediaRunner
	Settings func() *config.Settings // re-read per message
}

type Parser struct {
	api      MessageAPI
	contacts ContactDirectory
	media    MediaRunner
	settings func() *config.Settings
}

func New(cfg Config) *Parser {
	if cfg.Settings == nil {
		cfg.Settings = func() *config.Settings { return config.DefaultSettings() }
	}
	return &Parser{
		api:      cfg.API,
		contacts: cfg.Contacts,
		media:    cfg.Media,
		settings: cfg.Settings,
	}
}

// Parse renders segments into display text. Parts join without separators,
// matching how the pieces appeared in the original message.
func (p *Parser) Parse(ctx context.Context, segments []onebot.Segment, sourceType, sourceID string) ParsedMessage {
	settings := p.settings()
	var pm ParsedMessage
	var parts []string

	for _, seg := range segments {
		switch seg.Type {
		case "text":
			parts = append(parts, seg.Str("text"))
		case "at":
			parts = append(parts, p.renderAt(seg))
		case "face":
			parts = append(parts, faceTag(seg))
		case "reply":
			parts = append(parts, p.renderReply(ctx, seg, settings.ReplyMaxLength))
		case "image", "record", "video", "file":
			parts = append(parts, p.renderMedia(ctx, seg, sourceType, sourceID, settings, &pm))
		default:
			parts = append(parts, fmt.Sprintf(`<unsupported type="%s" />`, seg.Type))
		}
	}

	pm.Text = strings.Join(parts, "")
	return pm
}

func (p *Parser) renderAt(seg onebot.Segment) string {
	qq := seg.Str("qq")
	if qq == "all" {
		return "@全体成员"
	}
	if id, err := strconv.ParseInt(qq, 10, 64); err == nil && p.contacts != nil {
		if remark := p.contacts.Remark(id); remark != "" {
			return "@" + remark
		}
	}
	return "@" + qq
}

func (p *Parser) renderReply(ctx context.Context, seg onebot.Segment, maxLen int) string {
	id := seg.Int("id")
	if p.api == nil {
		return "<reply_to>无法获取原消息</reply_to>"
	}
	msg, err := p.api.GetMsg(ctx, id)
	if err != nil {
		slog.Warn("reply fetch failed", "message_id", id, "error", err)
		return "<reply_to>无法获取原消息</reply_to>"
	}

	var b strings.Builder
	for _, s := range msg.Message {
		b.WriteString(renderReplySegment(s))
	}
	content := b.String()
	if content == "" {
		content = msg.RawMessage
	}
	if runes := []rune(content); maxLen > 0 && len(runes) > maxLen {
		content = string(runes[:maxLen]) + "..."
	}
	return "<reply_to>" + content + "</reply_to>"
}

// renderReplySegment renders a quoted message's segment without touching the
// network; media shows as a bare tag.
func renderReplySegment(seg onebot.Segment) string {
	switch seg.Type {
	case "text":
		return seg.Str("text")
	case "face":
		return faceTag(seg)
	case "image", "record", "video", "file":
		kind := mediaKind(seg)
		return fmt.Sprintf("<%s%s />", media.TagFor(kind), media.FilenameAttr(media.Filename(seg)))
	}
	return ""
}

func (p *Parser) renderMedia(ctx context.Context, seg onebot.Segment, sourceType, sourceID string, settings *config.Settings, pm *ParsedMessage) string {
	kind := mediaKind(seg)
	cfg := settings.Media.ForType(kind)
	tag := media.TagFor(kind)
	fnAttr := media.FilenameAttr(media.Filename(seg))

	switch {
	case p.media == nil:
		return fmt.Sprintf("<%s%s />", tag, fnAttr)

	case cfg.Transcribe:
		if isSmall(seg, settings.Media) {
			return p.media.ProcessSegment(ctx, seg, kind, sourceType, sourceID)
		}
		task := p.media.StartTranscribe(ctx, seg, kind, sourceType, sourceID)
		pm.MediaTasks = append(pm.MediaTasks, task)
		return task.PlaceholderTag

	case cfg.Passthrough:
		if isSmall(seg, settings.Media) {
			// the marker stays even when the payload never makes it
			if block, err := p.media.PassthroughSegment(ctx, seg, kind, sourceType, sourceID); err == nil && block != nil {
				pm.ContentBlocks = append(pm.ContentBlocks, *block)
			} else if err != nil {
				slog.Warn("media passthrough failed", "type", kind, "error", err)
			}
			return fmt.Sprintf("<%s%s />", tag, fnAttr)
		}
		task := p.media.StartPassthrough(ctx, seg, kind, sourceType, sourceID)
		pm.MediaTasks = append(pm.MediaTasks, task)
		return task.PlaceholderTag

	default:
		return fmt.Sprintf("<%s%s />", tag, fnAttr)
	}
}

// isSmall reports whether the segment can be processed inline: the size must
// be known and the threshold configured.
func isSmall(seg onebot.Segment, m config.MediaSettings) bool {
	if m.SyncProcessThresholdMB <= 0 {
		return false
	}
	size := seg.Int("file_size")
	if size <= 0 {
		return false
	}
	return size <= int64(m.SyncProcessThresholdMB)<<20
}

var extMediaKinds = map[string]string{
	".mp3": "audio", ".wav": "audio", ".flac": "audio", ".aac": "audio",
	".ogg": "audio", ".wma": "audio", ".amr": "audio", ".m4a": "audio", ".opus": "audio",
	".mp4": "video", ".avi": "video", ".mkv": "video", ".mov": "video",
	".wmv": "video", ".flv": "video", ".webm": "video", ".m4v": "video", ".3gp": "video",
	".jpg": "image", ".jpeg": "image", ".png": "image", ".gif": "image",
	".bmp": "image", ".webp": "image", ".svg": "image", ".tiff": "image", ".ico": "image",
}

// mediaKind maps a segment to its pipeline type. File segments classify by
// extension and default to document.
func mediaKind(seg onebot.Segment) string {
	switch seg.Type {
	case "image":
		return "image"
	case "record":
		return "audio"
	case "video":
		return "video"
	}
	if name := media.Filename(seg); name != "" {
		if kind, ok := extMediaKinds[strings.ToLower(filepath.Ext(name))]; ok {
			return kind
		}
	}
	return "document"
}

func faceTag(seg onebot.Segment) string {
	if id, err := strconv.Atoi(seg.Str("id")); err == nil {
		if name, ok := faceNames[id]; ok {
			return fmt.Sprintf(`<face name="%s" />`, name)
		}
	}
	return "<face />"
}
