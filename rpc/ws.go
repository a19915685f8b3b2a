package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"p2plend/core/events"
)

const (
	wsWriteTimeout    = 10 * time.Second
	wsSubscriberQueue = 256
)

// handleEvents streams committed events. The optional "types" query lists
// event types (or type prefixes ending in '.') to forward.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter := parseEventFilter(r.URL.Query().Get("types"))
	// Subscribe before the handshake completes so nothing committed after
	// the client sees the upgrade is missed.
	sub := s.node.Bus().Subscribe(wsSubscriberQueue)
	defer sub.Close()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.CORS.AllowedOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The client never sends data; CloseRead surfaces its close frame as
	// context cancellation.
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, sub, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, sub *events.Subscription, filter eventFilter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-sub.C:
			if !ok {
				return nil
			}
			if !filter.match(rec.Event.Type) {
				continue
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec events.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

type eventFilter []string

func parseEventFilter(raw string) eventFilter {
	var out eventFilter
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (f eventFilter) match(eventType string) bool {
	if len(f) == 0 {
		return true
	}
	for _, want := range f {
		if want == eventType || (strings.HasSuffix(want, ".") && strings.HasPrefix(eventType, want)) {
			return true
		}
	}
	return false
}
