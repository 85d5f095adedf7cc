package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/quill/internal/correction"
	"github.com/MrWong99/quill/internal/observe"
)

// streamReadLimit caps a single inbound WebSocket message.
const streamReadLimit = 64 << 10

type streamRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type streamResponse struct {
	ID string `json:"id"`
	*correctResponse
	Error string `json:"error,omitempty"`
}

// handleStream upgrades to a WebSocket and answers each {"id","text"}
// message with one correction. Messages on a connection are handled in
// order.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(streamReadLimit)

	ctx := correction.WithSource(r.Context(), correction.SourceStream)
	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

	log := observe.Logger(ctx)
	log.Debug("stream opened")

	for {
		var req streamRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			switch {
			case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
				websocket.CloseStatus(err) == websocket.StatusGoingAway,
				errors.Is(err, context.Canceled):
				log.Debug("stream closed")
				conn.Close(websocket.StatusNormalClosure, "")
			default:
				log.Warn("stream read failed", "err", err)
				conn.Close(websocket.StatusUnsupportedData, "invalid message")
			}
			return
		}

		res, msg := s.correctOne(ctx, req.Text)
		if err := wsjson.Write(ctx, conn, streamResponse{ID: req.ID, correctResponse: res, Error: msg}); err != nil {
			log.Warn("stream write failed", "err", err)
			return
		}
	}
}
