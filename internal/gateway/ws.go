package gateway

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/san-techie21/gulama-gateway/internal/agent"
	"github.com/san-techie21/gulama-gateway/pkg/protocol"
)

// handleWSChat upgrades to WebSocket and runs the streaming chat loop.
// The session token arrives as ?token= because browsers cannot attach
// headers to the upgrade request; verification is the same path as the
// REST endpoints.
func (s *Server) handleWSChat(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessionFromRequest(r); err != nil {
		writeError(w, http.StatusUnauthorized, "missing or expired session")
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("gateway.ws_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var req protocol.ChatRequestFrame
		if err := conn.ReadJSON(&req); err != nil {
			return // client disconnected or sent garbage; either way the task ends
		}
		if req.Type != "message" || req.Content == "" {
			conn.WriteJSON(protocol.ChatResponseFrame{Type: protocol.ChatError, Content: "expected {type:\"message\", content}"})
			continue
		}
		if max := s.cfg.Gateway.MaxMessageChars; max > 0 && len(req.Content) > max {
			conn.WriteJSON(protocol.ChatResponseFrame{Type: protocol.ChatError, Content: "message too long"})
			continue
		}

		events := s.brain.StreamMessage(r.Context(), agent.ProcessRequest{
			Message:        req.Content,
			ConversationID: req.ConversationID,
			Channel:        "gateway",
		})

		for ev := range events {
			switch ev.Type {
			case "chunk":
				if err := conn.WriteJSON(protocol.ChatResponseFrame{Type: protocol.ChatChunk, Content: ev.Content}); err != nil {
					return
				}
			case "complete":
				frame := protocol.ChatResponseFrame{Type: protocol.ChatComplete}
				if ev.Result != nil {
					frame.Content = ev.Result.Response
					frame.ConversationID = ev.Result.ConversationID
					frame.TokensUsed = ev.Result.TokensUsed
					frame.CostUSD = ev.Result.CostUSD
				}
				if err := conn.WriteJSON(frame); err != nil {
					return
				}
			case "error":
				if err := conn.WriteJSON(protocol.ChatResponseFrame{Type: protocol.ChatError, Content: ev.Content}); err != nil {
					return
				}
			}
		}
	}
}
