package bot

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/antlerlab/antlerbot/internal/dispatch"
	"github.com/antlerlab/antlerbot/internal/media"
	"github.com/antlerlab/antlerbot/internal/onebot"
	"github.com/antlerlab/antlerbot/internal/telemetry"
)

// consumeEvents drains the event channel one event at a time, so blocking
// API calls made while handling never stall the transport's read pump.
func (b *Bot) consumeEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			b.handleEvent(ctx, ev)
		}
	}
}

func (b *Bot) handleEvent(ctx context.Context, ev onebot.Event) {
	switch ev.PostType {
	case "message":
		b.handleMessage(ctx, ev)
	case "notice":
		b.handleNotice(ctx, ev)
	}
}

// handleNotice keeps the contact caches fresh: a new friend or the bot
// joining a group means a directory entry we have never seen.
func (b *Bot) handleNotice(ctx context.Context, ev onebot.Event) {
	switch ev.NoticeType {
	case "friend_add":
		go b.refreshContacts(ctx)
	case "group_increase":
		if ev.UserID == ev.SelfID {
			go b.refreshContacts(ctx)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, ev onebot.Event) {
	var sourceID int64
	switch ev.MessageType {
	case "group":
		sourceID = ev.GroupID
	case "private":
		sourceID = ev.UserID
	default:
		return
	}

	if b.commands.Handle(ctx, ev.UserID, plainText(ev.Message)) {
		return
	}

	id := strconv.FormatInt(sourceID, 10)
	pm := b.parser.Parse(ctx, ev.Message, ev.MessageType, id)
	text := b.senderHeader(ev) + pm.Text
	reply := b.replyFunc(ev.MessageType, sourceID)
	sourceKey := dispatch.SourceKey(ev.MessageType, id)

	if len(pm.MediaTasks) > 0 {
		go b.resolveMedia(sourceKey, text, pm.MediaTasks, reply)
	}

	b.dispatcher.Enqueue(dispatch.Item{
		Priority:  dispatch.PriorityUser,
		SourceKey: sourceKey,
		Kind:      dispatch.ItemMessage,
		Text:      text,
		Blocks:    pm.ContentBlocks,
		Reply:     reply,
	})
}

// senderHeader labels the turn for the model with who spoke and where.
func (b *Bot) senderHeader(ev onebot.Event) string {
	var nickname, card string
	if ev.Sender != nil {
		nickname = ev.Sender.Nickname
		card = ev.Sender.Card
	}
	if ev.MessageType == "group" {
		name := b.contacts.SenderName(ev.UserID, nickname, card)
		groupName := b.contacts.GroupDisplayName(ev.GroupID)
		if groupName == "" {
			groupName = strconv.FormatInt(ev.GroupID, 10)
		}
		return "<sender>" + name + " [群聊-" + groupName + "]</sender>"
	}
	name := b.contacts.SenderName(ev.UserID, nickname, "")
	return "<sender>" + name + "</sender>"
}

// replyFunc delivers one outbound segment back to the originating chat.
// Send failures are logged and swallowed; losing a segment must not take
// down the dispatch worker.
func (b *Bot) replyFunc(sourceType string, id int64) func(string) {
	return func(segment string) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var err error
		if sourceType == "group" {
			_, err = b.client.SendGroupMsg(ctx, id, segment)
		} else {
			_, err = b.client.SendPrivateMsg(ctx, id, segment)
		}
		if err != nil {
			slog.Warn("reply send failed", "source", sourceType+":"+strconv.FormatInt(id, 10), "error", err)
		}
	}
}

// resolveMedia is the sidecar: wait for every media task of one payload,
// substitute the results into the text, and enqueue the resolved message as
// a follow-up turn. The original item has already dispatched with loading
// placeholders, so the queue never waits on downloads or transcription.
func (b *Bot) resolveMedia(sourceKey, text string, mediaTasks []media.Task, reply func(string)) {
	ctx, span := telemetry.StartSpan(context.Background(), "media.resolve",
		attribute.String("source", sourceKey),
		attribute.Int("tasks", len(mediaTasks)))
	defer span.End()

	timeout := time.Duration(b.settings().Media.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	resolved, blocks := media.Resolve(ctx, timeout, text, mediaTasks)

	b.dispatcher.Enqueue(dispatch.Item{
		Priority:  dispatch.PriorityUser,
		SourceKey: sourceKey,
		Kind:      dispatch.ItemMessage,
		Text:      resolved,
		Blocks:    blocks,
		Reply:     reply,
	})
	slog.Info("media resolved", "source", sourceKey, "tasks", len(mediaTasks))
}

// plainText joins the text segments, which is what command parsing sees.
// Mixed-media messages keep their text parts, so "/status" with a stray
// image still reads as a command attempt.
func plainText(segments []onebot.Segment) string {
	var parts []string
	for _, seg := range segments {
		if seg.Type == "text" {
			parts = append(parts, seg.Str("text"))
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}
