package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/MimeLyc/livesub/internal/sink"
	"github.com/MimeLyc/livesub/pkg/log"
)

const subscriberBuffer = 32

// subscribe registers a viewer and replays the current subtitle so a late
// joiner does not wait for the next line.
func (s *Server) subscribe(ctx context.Context) (<-chan sink.Subtitle, *sink.Subtitle, func()) {
	b := s.ctrl.Subtitles()
	updates, cancel := b.Subscribe(subscriberBuffer)
	s.metrics.SubscriberDelta(ctx, 1)

	var first *sink.Subtitle
	if latest, ok := b.Latest(); ok {
		first = &latest
	}
	return updates, first, func() {
		cancel()
		s.metrics.SubscriberDelta(context.WithoutCancel(ctx), -1)
	}
}

func (s *Server) handleSubtitleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates, first, unsubscribe := s.subscribe(r.Context())
	defer unsubscribe()

	send := func(sub sink.Subtitle) bool {
		payload, err := json.Marshal(sub)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: subtitle\ndata: %s\n\n", sub.Sequence, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if first != nil {
		if !send(*first) {
			return
		}
	} else {
		if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
			return
		}
		flusher.Flush()
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case sub, ok := <-updates:
			if !ok || !send(sub) {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleSubtitleSocket pushes every subtitle as one JSON text frame. Messages
// from the viewer are ignored.
func (s *Server) handleSubtitleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.origins,
	})
	if err != nil {
		log.Warn("Subtitle websocket upgrade failed: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	updates, first, unsubscribe := s.subscribe(ctx)
	defer unsubscribe()

	write := func(sub sink.Subtitle) error {
		data, err := json.Marshal(sub)
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return conn.Write(wctx, websocket.MessageText, data)
	}

	if first != nil {
		if err := write(*first); err != nil {
			return
		}
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case sub, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := write(sub); err != nil {
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
