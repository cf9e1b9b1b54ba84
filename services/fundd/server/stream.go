package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"traderchain/core/events"
	"traderchain/core/types"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// attributed is implemented by every fund event.
type attributed interface {
	Event() *types.Event
}

type subscriber struct {
	fundID string
	ch     chan *types.Event
}

// Hub fans committed fund events out to websocket subscribers. Subscribers
// that fall behind are disconnected instead of blocking the engine.
type Hub struct {
	logger *slog.Logger
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, subs: make(map[*subscriber]struct{})}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	src, ok := evt.(attributed)
	if !ok {
		return
	}
	payload := src.Event()
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.fundID != "" && payload.Attribute("fundId") != sub.fundID {
			continue
		}
		select {
		case sub.ch <- payload:
		default:
			h.logger.Warn("dropping slow event subscriber", "fund_id", sub.fundID)
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

// Subscribe registers a listener. An empty fundID receives every event.
func (h *Hub) Subscribe(fundID string) (<-chan *types.Event, func()) {
	sub := &subscriber{fundID: fundID, ch: make(chan *types.Event, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	fundID := strings.TrimSpace(r.URL.Query().Get("fund"))
	if fundID != "" {
		if _, err := strconv.ParseUint(fundID, 10, 64); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid fund id")
			return
		}
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := s.hub.Subscribe(fundID)
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, updates <-chan *types.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusTryAgainLater, "subscriber lagging")
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
