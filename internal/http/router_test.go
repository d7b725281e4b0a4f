package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"anamnesis-transcript-service/internal/events"
	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/schema"
	"anamnesis-transcript-service/internal/service/buffer"
	"anamnesis-transcript-service/internal/service/dispatch"
	"anamnesis-transcript-service/internal/service/session"
	"anamnesis-transcript-service/internal/service/stt"
)

const identification = "Meu nome é João Silva, tenho 42 anos, sou masculino"

var echoSTT = stt.TranscriberFunc(func(ctx context.Context, audio []byte, mimeType string) (stt.Result, error) {
	return stt.Result{Text: string(audio), Confidence: 0.95, Success: true}, nil
})

type testServer struct {
	*httptest.Server
	hub *events.Hub
}

func newTestServer(t *testing.T, ready func(context.Context) error) *testServer {
	t.Helper()
	sc, err := schema.LoadDefault()
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	cfg := session.DefaultConfig()
	cfg.Buffer = buffer.Config{MaxChars: 10000, MaxWait: time.Hour, Debounce: time.Hour}
	cfg.Dispatch = dispatch.Config{
		ChunkWindow: time.Hour,
		QueueSize:   4,
		STTTimeout:  time.Second,
		Limits:      dispatch.ChunkLimits{MinBytes: 1, MaxBytes: 1 << 20},
	}
	cfg.AutoAdvance = false
	cfg.WatchdogInterval = time.Hour

	hub := events.NewHub(nil)
	reg := session.NewRegistry(session.Deps{Schema: sc, STT: echoSTT, Notifier: hub}, cfg)
	srv := httptest.NewServer(NewRouter(NewHandler(reg, hub, nil), ready))
	t.Cleanup(func() {
		_ = reg.CloseAll(context.Background())
		hub.Close()
		srv.Close()
	})
	return &testServer{Server: srv, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp, out
}

func (ts *testServer) send(t *testing.T, method, path string, v any) (*http.Response, []byte) {
	t.Helper()
	var body []byte
	if v != nil {
		var err error
		if body, err = json.Marshal(v); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	return ts.do(t, method, path, "application/json", body)
}

func (ts *testServer) record(t *testing.T, id string) *models.RecordState {
	t.Helper()
	resp, body := ts.send(t, http.MethodGet, "/v1/consultations/"+id+"/record", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get record status = %d: %s", resp.StatusCode, body)
	}
	var rec models.RecordState
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return &rec
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var nomePath = models.FieldPath{SectionID: "identificacao", FieldID: "nome_completo"}

func valueAt(rec *models.RecordState, p models.FieldPath) string {
	if f := rec.Field(p); f != nil {
		return f.Value
	}
	return ""
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t, func(context.Context) error { return errors.New("store down") })

	if resp, _ := ts.do(t, http.MethodGet, "/v1/liveness", "", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("liveness status = %d", resp.StatusCode)
	}
	resp, body := ts.do(t, http.MethodGet, "/v1/readiness", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "store down") {
		t.Errorf("readiness = %d %q", resp.StatusCode, body)
	}
}

func TestOpenAndCloseConsultation(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.send(t, http.MethodPost, "/v1/consultations/c-1", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open status = %d: %s", resp.StatusCode, body)
	}
	var opened openResponse
	if err := json.Unmarshal(body, &opened); err != nil || !opened.Created || opened.Record.ConsultationID != "c-1" {
		t.Fatalf("open response = %+v, %v", opened, err)
	}
	if resp, _ := ts.send(t, http.MethodPost, "/v1/consultations/c-1", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("reopen status = %d", resp.StatusCode)
	}

	if resp, _ := ts.send(t, http.MethodGet, "/v1/consultations/c-2/record", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown consultation status = %d", resp.StatusCode)
	}

	if resp, _ := ts.send(t, http.MethodDelete, "/v1/consultations/c-1", nil); resp.StatusCode != http.StatusNoContent {
		t.Errorf("close status = %d", resp.StatusCode)
	}
	if resp, _ := ts.send(t, http.MethodDelete, "/v1/consultations/c-1", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second close status = %d", resp.StatusCode)
	}
}

func TestIngestTranscripts(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.send(t, http.MethodPost, "/v1/consultations/c-1", nil)

	resp, body := ts.send(t, http.MethodPost, "/v1/consultations/c-1/transcripts", transcriptsRequest{
		Fragments: []fragmentRequest{
			{Channel: "patient", Text: identification},
			{Channel: "patient", Text: "Muito obrigado."},
		},
		Lines: []string{"Legendas pela comunidade Amara.org"},
		Flush: true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d: %s", resp.StatusCode, body)
	}
	var out transcriptsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Decisions) != 3 {
		t.Fatalf("decisions = %+v", out.Decisions)
	}
	if !out.Decisions[0].Accepted || out.Decisions[1].Accepted || out.Decisions[2].Accepted {
		t.Errorf("decisions = %+v", out.Decisions)
	}
	if out.Decisions[2].Reason != "boilerplate" {
		t.Errorf("caption line reason = %q", out.Decisions[2].Reason)
	}

	eventually(t, "record filled", func() bool { return valueAt(ts.record(t, "c-1"), nomePath) == "João Silva" })

	resp, body = ts.send(t, http.MethodGet, "/v1/consultations/c-1/next-field", nil)
	var next nextFieldResponse
	if err := json.Unmarshal(body, &next); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("next-field = %d %s", resp.StatusCode, body)
	}
	if next.Complete || next.FieldPath == nil || next.FieldPath.FieldID != "profissao" {
		t.Errorf("next field = %+v", next)
	}

	resp, _ = ts.send(t, http.MethodPost, "/v1/consultations/c-1/transcripts", transcriptsRequest{
		Fragments: []fragmentRequest{{Channel: "nurse", Text: identification}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown channel status = %d", resp.StatusCode)
	}
	if resp, _ := ts.do(t, http.MethodPost, "/v1/consultations/c-1/transcripts", "application/json", []byte("{")); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", resp.StatusCode)
	}
	oversized := []byte(`{"lines":["` + strings.Repeat("a", maxJSONBody) + `"]}`)
	if resp, _ := ts.do(t, http.MethodPost, "/v1/consultations/c-1/transcripts", "application/json", oversized); resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body status = %d", resp.StatusCode)
	}
}

func TestManualEdits(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.send(t, http.MethodPost, "/v1/consultations/c-1", nil)
	base := "/v1/consultations/c-1/fields/identificacao/nome_completo"

	resp, body := ts.send(t, http.MethodPatch, base, map[string]any{"value": "Maria Souza"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d: %s", resp.StatusCode, body)
	}
	var d models.Delta
	if err := json.Unmarshal(body, &d); err != nil {
		t.Fatalf("decode delta: %v", err)
	}
	if d.From != nil || d.To.Value != "Maria Souza" || d.To.Confidence != 1 {
		t.Errorf("delta = %+v", d)
	}

	resp, body = ts.send(t, http.MethodPost, base+"/confirm", nil)
	if err := json.Unmarshal(body, &d); err != nil || resp.StatusCode != http.StatusOK || !d.To.Confirmed {
		t.Errorf("confirm = %d %s", resp.StatusCode, body)
	}
	if f := ts.record(t, "c-1").Field(nomePath); f == nil || !f.Confirmed || f.Value != "Maria Souza" {
		t.Errorf("record field = %+v", f)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"unknown field confirm", http.MethodPost, "/v1/consultations/c-1/fields/identificacao/apelido/confirm", nil, http.StatusNotFound},
		{"unknown field patch", http.MethodPatch, "/v1/consultations/c-1/fields/x/y", map[string]any{"value": "v"}, http.StatusNotFound},
		{"confidence out of range", http.MethodPatch, base, map[string]any{"confidence": 1.5}, http.StatusBadRequest},
		{"unknown consultation", http.MethodPatch, "/v1/consultations/c-9/fields/identificacao/nome_completo", map[string]any{"value": "v"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp, body := ts.send(t, tt.method, tt.path, tt.body); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d: %s", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestSetFocus(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.send(t, http.MethodPost, "/v1/consultations/c-1", nil)

	if resp, body := ts.send(t, http.MethodPut, "/v1/consultations/c-1/focus", nomePath); resp.StatusCode != http.StatusNoContent {
		t.Errorf("focus status = %d: %s", resp.StatusCode, body)
	}
	if resp, _ := ts.send(t, http.MethodPut, "/v1/consultations/c-1/focus", models.FieldPath{SectionID: "antecedentes", FieldID: "nome_completo"}); resp.StatusCode != http.StatusNotFound {
		t.Errorf("mismatched section status = %d", resp.StatusCode)
	}
	if resp, _ := ts.send(t, http.MethodPut, "/v1/consultations/c-1/focus", models.FieldPath{}); resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear focus status = %d", resp.StatusCode)
	}
}

func TestPushAudio(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.send(t, http.MethodPost, "/v1/consultations/c-1", nil)
	audioPath := "/v1/consultations/c-1/channels/patient/audio"

	resp, body := ts.do(t, http.MethodPost, audioPath, "audio/l16", []byte("Meu nome é João Silva, "))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("push status = %d: %s", resp.StatusCode, body)
	}
	resp, body = ts.do(t, http.MethodPost, audioPath, "audio/l16", []byte("tenho 42 anos, sou masculino"))
	var ar audioResponse
	if err := json.Unmarshal(body, &ar); err != nil || resp.StatusCode != http.StatusAccepted {
		t.Fatalf("second push = %d %s", resp.StatusCode, body)
	}
	if ar.Channel != models.ChannelPatient || ar.Buffered != len(identification) {
		t.Errorf("audio response = %+v, want %d buffered", ar, len(identification))
	}

	if resp, _ := ts.do(t, http.MethodPost, audioPath, "audio/webm", []byte("x")); resp.StatusCode != http.StatusConflict {
		t.Errorf("mime change status = %d", resp.StatusCode)
	}
	if resp, _ := ts.do(t, http.MethodPost, "/v1/consultations/c-1/channels/heuristic-speaker/audio", "", []byte("x")); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("heuristic channel status = %d", resp.StatusCode)
	}

	// Stopping the channel transcribes the open window.
	if resp, body := ts.send(t, http.MethodDelete, "/v1/consultations/c-1/channels/patient", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("stop status = %d: %s", resp.StatusCode, body)
	}
	if resp, _ := ts.send(t, http.MethodDelete, "/v1/consultations/c-1/channels/patient", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("stop idle channel status = %d", resp.StatusCode)
	}

	ts.send(t, http.MethodPost, "/v1/consultations/c-1/transcripts", transcriptsRequest{Flush: true})
	eventually(t, "record filled from audio", func() bool { return valueAt(ts.record(t, "c-1"), nomePath) == "João Silva" })
}

func TestWebSocketReceivesEvents(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.send(t, http.MethodPost, "/v1/consultations/c-1", nil)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/consultations/c-1/ws"

	if _, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/consultations/c-9/ws", nil); err == nil {
		t.Error("expected dial to unknown consultation to fail")
	} else if resp != nil && resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown consultation ws status = %d", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	eventually(t, "subscriber registered", func() bool { return ts.hub.Subscribers("c-1") == 1 })

	ts.send(t, http.MethodPost, "/v1/consultations/c-1/transcripts", transcriptsRequest{
		Fragments: []fragmentRequest{{Channel: "doctor", Text: "o paciente relata dor de cabeça há três dias"}},
	})

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev models.TranscriptionEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type != models.EventTypeTranscription {
			continue
		}
		if ev.ConsultationID != "c-1" || ev.Channel != models.ChannelDoctor {
			t.Errorf("event = %+v", ev)
		}
		return
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrNotFound, http.StatusNotFound},
		{session.ErrChannelActive, http.StatusConflict},
		{fmt.Errorf("%w: 2MiB", errBodyTooLarge), http.StatusRequestEntityTooLarge},
		{session.ErrSessionClosed, http.StatusGone},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
