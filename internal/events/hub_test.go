package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"anamnesis-transcript-service/internal/models"
)

func newHubServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, consultationID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + consultationID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribers(t *testing.T, h *Hub, consultationID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Subscribers(consultationID) != n {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers(%s) = %d, want %d", consultationID, h.Subscribers(consultationID), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_DeliversToConsultationSubscribers(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	srv := newHubServer(t, h)

	c1 := dial(t, srv, "c-1")
	other := dial(t, srv, "c-2")
	waitSubscribers(t, h, "c-1", 1)
	waitSubscribers(t, h, "c-2", 1)

	ev := NewStatusEvent("c-1", models.StatusNavigate, "", &models.FieldPath{SectionID: "identificacao", FieldID: "idade"})
	if err := h.PublishStatus(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = c1.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.StatusEvent
	if err := c1.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.EventID != ev.EventID || got.Status != models.StatusNavigate {
		t.Errorf("got %+v", got)
	}
	if got.Field == nil || got.Field.FieldID != "idade" {
		t.Errorf("field = %+v", got.Field)
	}

	_ = other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("subscriber of another consultation received the event")
	}
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub(nil)
	s := &subscriber{consultationID: "c-1", send: make(chan []byte, 1)}
	if !h.add(s) {
		t.Fatal("add refused")
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.PublishDelta(ctx, NewDeltaEvent("c-1", "extraction", nil, nil, nil)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if len(s.send) != 1 {
		t.Fatalf("buffered = %d, want 1", len(s.send))
	}
	var ev models.DeltaEvent
	if err := json.Unmarshal(<-s.send, &ev); err != nil || ev.Type != models.EventTypeDelta {
		t.Errorf("buffered payload = %+v, err %v", ev, err)
	}
}

func TestHub_DisconnectUnsubscribes(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()
	srv := newHubServer(t, h)

	conn := dial(t, srv, "c-1")
	waitSubscribers(t, h, "c-1", 1)
	conn.Close()
	waitSubscribers(t, h, "c-1", 0)
}

func TestHub_CloseDisconnectsAndRefuses(t *testing.T) {
	h := NewHub(nil)
	srv := newHubServer(t, h)

	conn := dial(t, srv, "c-1")
	waitSubscribers(t, h, "c-1", 1)
	h.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed")
	}
	if h.add(&subscriber{consultationID: "c-1", send: make(chan []byte, 1)}) {
		t.Error("closed hub accepted a subscriber")
	}
	if err := h.PublishStatus(context.Background(), NewStatusEvent("c-1", models.StatusQuiet, "", nil)); err != nil {
		t.Errorf("publish after close: %v", err)
	}
}
