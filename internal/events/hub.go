package events

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/observability/logging"
	"anamnesis-transcript-service/internal/observability/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
	// Subscribers only answer pings; anything larger is a misbehaving client.
	maxReadBytes = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // UI is served from another origin in local dev
	},
}

type subscriber struct {
	consultationID string
	conn           *websocket.Conn
	send           chan []byte
	closeOnce      sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.send) })
}

// Hub pushes session events to the websocket subscribers of each
// consultation. Delivery is best effort: a subscriber whose send buffer is
// full misses the event instead of slowing the session down.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	closed  bool
	metrics *metrics.Metrics
	log     zerolog.Logger
}

var _ Notifier = (*Hub)(nil)

// NewHub creates an empty hub. A nil metrics uses DefaultMetrics.
func NewHub(m *metrics.Metrics) *Hub {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Hub{
		subs:    make(map[string]map[*subscriber]struct{}),
		metrics: m,
		log:     logging.WithComponent("ws-hub"),
	}
}

// ServeWS upgrades the request and subscribes the connection to the events of
// one consultation. It returns once the connection is registered.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, consultationID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("consultationId", consultationID).Msg("WebSocket upgrade failed")
		return
	}
	s := &subscriber{
		consultationID: consultationID,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
	}
	if !h.add(s) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	go h.writePump(s)
	go h.readPump(s)
}

// Subscribers returns the number of live subscribers of a consultation.
func (h *Hub) Subscribers(consultationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[consultationID])
}

// PublishTranscription implements Notifier.
func (h *Hub) PublishTranscription(ctx context.Context, ev models.TranscriptionEvent) error {
	return h.broadcast(ev.ConsultationID, ev)
}

// PublishDelta implements Notifier.
func (h *Hub) PublishDelta(ctx context.Context, ev models.DeltaEvent) error {
	return h.broadcast(ev.ConsultationID, ev)
}

// PublishStatus implements Notifier.
func (h *Hub) PublishStatus(ctx context.Context, ev models.StatusEvent) error {
	return h.broadcast(ev.ConsultationID, ev)
}

// Close disconnects every subscriber. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, set := range h.subs {
		for s := range set {
			s.close()
			h.metrics.WebsocketSubscribers.Dec()
		}
		delete(h.subs, id)
	}
}

func (h *Hub) broadcast(consultationID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[consultationID] {
		select {
		case s.send <- payload:
		default:
			h.metrics.WebsocketDropped.Inc()
			h.log.Debug().Str("consultationId", consultationID).Msg("Subscriber too slow, event dropped")
		}
	}
	return nil
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.subs[s.consultationID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[s.consultationID] = set
	}
	set[s] = struct{}{}
	h.metrics.WebsocketSubscribers.Inc()
	h.log.Info().
		Str("consultationId", s.consultationID).
		Int("subscribers", len(set)).
		Msg("Subscriber connected")
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.consultationID]
	if !ok {
		return
	}
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.consultationID)
	}
	s.close()
	h.metrics.WebsocketSubscribers.Dec()
	h.log.Info().
		Str("consultationId", s.consultationID).
		Int("subscribers", len(set)).
		Msg("Subscriber disconnected")
}

// readPump drains the connection so pongs and close frames are processed.
func (h *Hub) readPump(s *subscriber) {
	defer h.remove(s)
	s.conn.SetReadLimit(maxReadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(s *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.remove(s)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(s)
				return
			}
		}
	}
}
