package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Jingik/S.F.D/internal/domain/detection"
	scandomain "github.com/Jingik/S.F.D/internal/domain/scanner"
)

// wsEvent mirrors the SSE frame for websocket clients.
type wsEvent struct {
	Type    string           `json:"type"`
	Payload detection.Record `json:"payload"`
}

// GET /session/stream/{userID}
// Websocket twin of the SSE stream: same activation bookkeeping on open,
// same single cleanup path on close.
func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	userID, err := urlInt64(req, "userID")
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		// the React frontend is served from another origin; CORS is handled
		// at the middleware layer for the plain endpoints
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error; nothing was activated yet.
		r.log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer ws.Close()

	// Attach only after the handshake: a failed upgrade must not leave a
	// scanner session in use with no subscriber behind it.
	if _, err := r.scanners.Attach(req.Context(), userID, r.opts.SerialNumber); err != nil {
		code := websocket.CloseInternalServerErr
		if errors.Is(err, scandomain.ErrNotFound) {
			code = websocket.ClosePolicyViolation
		} else {
			r.log.Error().Err(err).Int64("user_id", userID).Msg("attach on stream failed")
		}
		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, "could not activate scanner"))
		return
	}

	conn := r.live.Subscribe(userID)
	defer r.release(conn)

	// reader goroutine: clients send nothing meaningful, but the read pump
	// is what notices a dropped peer
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	idle := time.NewTimer(r.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case rec := <-conn.Events():
			if err := ws.WriteJSON(wsEvent{Type: "object-detected", Payload: rec}); err != nil {
				return
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(r.opts.IdleTimeout)
		case <-conn.Done():
			return
		case <-closed:
			return
		case <-req.Context().Done():
			return
		case <-idle.C:
			r.log.Info().Int64("user_id", userID).Msg("ws stream idle timeout")
			return
		}
	}
}
