package telegram

import (
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
)

// ReplyInfo describes the message being replied to, when any.
type ReplyInfo struct {
	Sender     string
	Body       string
	IsBotReply bool
}

// MsgContext carries the conversational context around one inbound
// message: reply chains, forwards, and shared locations.
type MsgContext struct {
	ReplyInfo    *ReplyInfo
	ForwardFrom  string
	LocationNote string
}

// buildMessageContext extracts reply/forward/location context from a
// Telegram message.
func buildMessageContext(msg *telego.Message, botUsername string) MsgContext {
	var mc MsgContext

	if reply := msg.ReplyToMessage; reply != nil {
		info := &ReplyInfo{}
		if reply.From != nil {
			info.Sender = reply.From.FirstName
			if reply.From.Username != "" {
				info.Sender = "@" + reply.From.Username
			}
			info.IsBotReply = botUsername != "" && reply.From.Username == botUsername
		}
		if reply.Text != "" {
			info.Body = reply.Text
		} else if reply.Caption != "" {
			info.Body = reply.Caption
		}
		mc.ReplyInfo = info
	}

	if origin := msg.ForwardOrigin; origin != nil {
		switch o := origin.(type) {
		case *telego.MessageOriginUser:
			mc.ForwardFrom = o.SenderUser.FirstName
			if o.SenderUser.Username != "" {
				mc.ForwardFrom = "@" + o.SenderUser.Username
			}
		case *telego.MessageOriginHiddenUser:
			mc.ForwardFrom = o.SenderUserName
		case *telego.MessageOriginChat:
			mc.ForwardFrom = o.SenderChat.Title
		case *telego.MessageOriginChannel:
			mc.ForwardFrom = o.Chat.Title
		}
	}

	if loc := msg.Location; loc != nil {
		mc.LocationNote = fmt.Sprintf("latitude %.5f, longitude %.5f", loc.Latitude, loc.Longitude)
	}

	return mc
}

// enrichContentWithContext prepends reply/forward/location annotations so
// the model sees the same context a human reading the chat would.
func enrichContentWithContext(content string, mc MsgContext) string {
	var notes []string

	if mc.ReplyInfo != nil && mc.ReplyInfo.Body != "" {
		body := mc.ReplyInfo.Body
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		notes = append(notes, fmt.Sprintf("[In reply to %s: %s]", mc.ReplyInfo.Sender, body))
	}
	if mc.ForwardFrom != "" {
		notes = append(notes, fmt.Sprintf("[Forwarded from %s]", mc.ForwardFrom))
	}
	if mc.LocationNote != "" {
		notes = append(notes, fmt.Sprintf("[Shared location: %s]", mc.LocationNote))
	}

	if len(notes) == 0 {
		return content
	}
	if content == "" {
		return strings.Join(notes, "\n")
	}
	return strings.Join(notes, "\n") + "\n" + content
}
