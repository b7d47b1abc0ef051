package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Jingik/S.F.D/internal/application/live"
	scandomain "github.com/Jingik/S.F.D/internal/domain/scanner"
)

// GET /session/connect/{userID}
// Long-lived SSE stream. Opening it force-idles any in-use scanner and
// activates a fresh session for the caller; closing it, however that
// happens, releases both again.
func (r *Router) handleConnect(w http.ResponseWriter, req *http.Request) {
	userID, err := urlInt64(req, "userID")
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	if _, err := r.scanners.Attach(req.Context(), userID, r.opts.SerialNumber); err != nil {
		if errors.Is(err, scandomain.ErrNotFound) {
			http.Error(w, "unknown user", http.StatusNotFound)
			return
		}
		r.log.Error().Err(err).Int64("user_id", userID).Msg("attach on connect failed")
		http.Error(w, "could not activate scanner", http.StatusInternalServerError)
		return
	}

	conn := r.live.Subscribe(userID)
	defer r.release(conn)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	idle := time.NewTimer(r.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case rec := <-conn.Events():
			data, err := json.Marshal(rec)
			if err != nil {
				r.log.Error().Err(err).Msg("marshaling sse event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: object-detected\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(r.opts.IdleTimeout)
		case <-conn.Done():
			return
		case <-req.Context().Done():
			return
		case <-idle.C:
			r.log.Info().Int64("user_id", userID).Msg("sse stream idle timeout")
			return
		}
	}
}

// release runs the one cleanup path shared by completion, timeout, and
// error: the registry entry goes, and if this transport still owned it, the
// scanner session goes idle with it. A replaced connection skips the detach
// so it cannot tear down its successor's session.
func (r *Router) release(conn *live.Connection) {
	if !r.live.Drop(conn) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.scanners.Detach(ctx, conn.UserID); err != nil {
		r.log.Error().Err(err).Int64("user_id", conn.UserID).Msg("detach on disconnect failed")
	}
}
