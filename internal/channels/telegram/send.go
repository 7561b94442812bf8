package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/san-techie21/gulama-gateway/internal/bus"
	"github.com/san-techie21/gulama-gateway/internal/channels/typing"
)

// telegramMaxMessageLen is Telegram's hard cap per sendMessage call.
const telegramMaxMessageLen = 4096

// Send delivers an outbound message: in DMs it edits the "Thinking..."
// placeholder when one exists, otherwise it sends a fresh message,
// splitting content that exceeds Telegram's per-message limit.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := parseRawChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("telegram send: invalid chat ID %q: %w", msg.ChatID, err)
	}

	localKey := msg.ChatID
	if lk, ok := msg.Metadata["local_key"]; ok && lk != "" {
		localKey = lk
	}

	// The turn is over: stop the typing indicator for this chat.
	if ctrl, ok := c.typingCtrls.LoadAndDelete(localKey); ok {
		ctrl.(*typing.Controller).Stop()
	}
	if stop, ok := c.stopThinking.LoadAndDelete(localKey); ok {
		if cf, ok := stop.(*thinkingCancel); ok {
			cf.Cancel()
		}
	}

	threadID := 0
	if v, ok := c.threadIDs.Load(localKey); ok {
		threadID = v.(int)
	}

	parts := splitMessage(msg.Content, telegramMaxMessageLen)
	if len(parts) == 0 {
		parts = []string{"(empty response)"}
	}

	// First part may replace the placeholder in DMs.
	if pID, ok := c.placeholders.LoadAndDelete(localKey); ok {
		edit := &telego.EditMessageTextParams{
			ChatID:    tu.ID(chatID),
			MessageID: pID.(int),
			Text:      parts[0],
		}
		if _, err := c.bot.EditMessageText(ctx, edit); err != nil {
			slog.Debug("telegram placeholder edit failed, sending fresh message", "error", err)
			if err := c.sendPart(ctx, chatID, threadID, parts[0], msg); err != nil {
				return err
			}
		}
		parts = parts[1:]
	}

	for _, part := range parts {
		if err := c.sendPart(ctx, chatID, threadID, part, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendPart(ctx context.Context, chatID int64, threadID int, text string, msg bus.OutboundMessage) error {
	out := tu.Message(tu.ID(chatID), text)
	if sendThreadID := resolveThreadIDForSend(threadID); sendThreadID > 0 {
		out.MessageThreadID = sendThreadID
	}
	if c.config.LinkPreview != nil && !*c.config.LinkPreview {
		out.LinkPreviewOptions = &telego.LinkPreviewOptions{IsDisabled: true}
	}
	// In groups, reply to the triggering message so the answer doesn't
	// drift away from its question.
	if isGroup, ok := msg.Metadata["is_group"]; ok && isGroup == "true" {
		if mid, ok := msg.Metadata["message_id"]; ok {
			var messageID int
			if _, err := fmt.Sscanf(mid, "%d", &messageID); err == nil && messageID > 0 {
				out.ReplyParameters = &telego.ReplyParameters{
					MessageID:                messageID,
					AllowSendingWithoutReply: true,
				}
			}
		}
	}

	if _, err := c.bot.SendMessage(ctx, out); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// splitMessage breaks content into chunks of at most limit bytes,
// preferring newline boundaries.
func splitMessage(content string, limit int) []string {
	if content == "" {
		return nil
	}
	var parts []string
	for len(content) > limit {
		cut := limit
		if idx := strings.LastIndex(content[:limit], "\n"); idx > limit/2 {
			cut = idx
		}
		parts = append(parts, strings.TrimRight(content[:cut], "\n"))
		content = strings.TrimLeft(content[cut:], "\n")
	}
	if content != "" {
		parts = append(parts, content)
	}
	return parts
}
