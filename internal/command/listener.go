package command

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tremor/internal/logger"
)

// ChatMessage is one inbound group text message extracted from a chat-host
// frame.
type ChatMessage struct {
	GroupID string
	Text    string
}

// WebsocketHandler accepts the chat host's reverse websocket connection and
// feeds its group messages to the command router. The chat host reconnects
// on its own; each connection is served until its read loop fails.
func WebsocketHandler(router *Router, log logger.Logger) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warnw("Command listener upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		log.Infow("Command listener connected", "remote", conn.RemoteAddr().String())
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				log.Infow("Command listener disconnected", "error", err)
				return
			}
			for _, msg := range ParseChatEvents(raw) {
				router.Handle(c.Request.Context(), msg.GroupID, msg.Text)
			}
		}
	}
}

type chatEvent struct {
	PostType    string      `json:"post_type"`
	MessageType string      `json:"message_type"`
	GroupID     json.Number `json:"group_id"`
	Message     interface{} `json:"message"`
}

// ParseChatEvents extracts group text messages from a chat-host frame. A
// frame may be a single event object or an array of them; message bodies may
// be plain strings or arrays of typed segments. Anything unrecognized is
// skipped, never an error.
func ParseChatEvents(raw []byte) []ChatMessage {
	var events []chatEvent

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil
		}
	} else {
		var single chatEvent
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil
		}
		events = []chatEvent{single}
	}

	var out []ChatMessage
	for _, ev := range events {
		if ev.PostType != "message" || ev.MessageType != "group" {
			continue
		}
		groupID := ev.GroupID.String()
		if groupID == "" {
			continue
		}
		text := messageText(ev.Message)
		if text == "" {
			continue
		}
		out = append(out, ChatMessage{GroupID: groupID, Text: text})
	}
	return out
}

func messageText(message interface{}) string {
	switch m := message.(type) {
	case string:
		return strings.TrimSpace(m)
	case []interface{}:
		var b strings.Builder
		for _, seg := range m {
			segment, ok := seg.(map[string]interface{})
			if ok && segment["type"] == "text" {
				if data, ok := segment["data"].(map[string]interface{}); ok {
					if text, ok := data["text"].(string); ok {
						b.WriteString(text)
					}
				}
			}
		}
		return strings.TrimSpace(b.String())
	default:
		return ""
	}
}
