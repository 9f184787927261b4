package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nventro/ledgerlens/internal/inference"
	"github.com/nventro/ledgerlens/internal/observe"
)

// streamItem is one classification request on the WebSocket. Seq is an
// opaque client-chosen correlation value echoed back in the response, so a
// client may pipeline requests without waiting for answers.
type streamItem struct {
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

// streamResult is the per-item answer. Exactly one of Prediction or Error is
// set.
type streamResult struct {
	Seq        int                   `json:"seq"`
	Prediction *inference.Prediction `json:"prediction,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// handlePredictStream upgrades to a WebSocket and classifies transaction
// descriptions as they arrive, one JSON message per item. Unlike the bulk
// endpoint this keeps a conversation open, which suits interactive review
// tools that classify lines while a human scrolls through a statement.
//
// A failed item produces an error result on the socket; only protocol-level
// failures close the connection.
func (s *Server) handlePredictStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	for {
		var item streamItem
		if err := wsjson.Read(ctx, conn, &item); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			observe.Logger(ctx).Warn("websocket read failed", "error", err)
			conn.Close(websocket.StatusInvalidFramePayloadData, "invalid message")
			return
		}

		result := streamResult{Seq: item.Seq}
		pred, err := s.svc.Predict(ctx, item.Text)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Prediction = pred
		}

		if err := wsjson.Write(ctx, conn, result); err != nil {
			observe.Logger(ctx).Warn("websocket write failed", "error", err)
			return
		}
	}
}
