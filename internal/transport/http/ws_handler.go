package http

import (
	"context"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mkovalev/duochat/internal/chat"
	"github.com/mkovalev/duochat/internal/store"
)

// SnapshotMessage is the wire form of one snapshot event.
type SnapshotMessage struct {
	Type     string            `json:"type"` // "initial" | "update" | "error"
	Seq      uint64            `json:"seq"`
	Messages []MessageResponse `json:"messages,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// WSHandler serves the live snapshot feed of a conversation over websocket.
type WSHandler struct {
	stream *chat.StreamClient
	log    *zerolog.Logger
}

// NewWSHandler builds the websocket feed handler.
func NewWSHandler(stream *chat.StreamClient, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{stream: stream, log: logger}
}

// Feed upgrades the connection and streams full snapshots until the client
// disconnects. GET /ws/conversations/:peer
func (h *WSHandler) Feed(c *gin.Context) {
	selfID := c.GetString(ContextKeyUserID)
	peerID := c.Param("peer")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Pending delivery holds one event: a newer snapshot supersedes an
	// undelivered older one. The stream client serializes the callback, so
	// there is a single producer.
	events := make(chan store.SnapshotEvent, 1)
	sub, err := h.stream.Open(ctx, selfID, peerID, func(ev store.SnapshotEvent) {
		select {
		case events <- ev:
		default:
			select {
			case <-events:
			default:
			}
			events <- ev
		}
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws subscribe error")
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Cancel()

	// Inbound traffic is ignored; reading just detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		case ev := <-events:
			if err := wsjson.Write(ctx, conn, toSnapshotMessage(ev)); err != nil {
				h.log.Debug().Err(err).Msg("ws write failed")
				return
			}
		}
	}
}

func toSnapshotMessage(ev store.SnapshotEvent) SnapshotMessage {
	out := SnapshotMessage{Seq: ev.Seq}
	switch ev.Kind {
	case store.SnapshotInitial:
		out.Type = "initial"
	case store.SnapshotUpdate:
		out.Type = "update"
	case store.SnapshotError:
		out.Type = "error"
		if ev.Err != nil {
			out.Error = ev.Err.Error()
		}
		return out
	}

	out.Messages = make([]MessageResponse, 0, len(ev.Messages))
	for _, m := range ev.Messages {
		out.Messages = append(out.Messages, toMessageResponse(m))
	}
	return out
}
