package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/service/dispatch"
	"anamnesis-transcript-service/internal/service/gate"
	"anamnesis-transcript-service/internal/service/record"
	"anamnesis-transcript-service/internal/service/session"
)

var (
	errBadRequest   = errors.New("bad request")
	errBodyTooLarge = errors.New("request body too large")
)

// maxJSONBody caps every JSON request body.
const maxJSONBody = 1 << 20

// defaultAudioMime is assumed when a push carries no Content-Type.
const defaultAudioMime = "audio/l16"

type openResponse struct {
	Created bool                `json:"created"`
	Record  *models.RecordState `json:"record"`
}

type nextFieldResponse struct {
	FieldPath *models.FieldPath `json:"fieldPath"`
	Complete  bool              `json:"complete"`
}

type fragmentRequest struct {
	Channel    string   `json:"channel"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type transcriptsRequest struct {
	Fragments []fragmentRequest `json:"fragments"`
	// Lines carry no speaker; they are tagged heuristic-speaker.
	Lines []string `json:"lines"`
	Flush bool     `json:"flush"`
}

type decisionResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type transcriptsResponse struct {
	Decisions []decisionResponse `json:"decisions"`
}

type audioResponse struct {
	Channel  models.Channel `json:"channel"`
	Bytes    int64          `json:"bytes"`
	Buffered int            `json:"buffered"`
}

func (h *Handler) session(r *http.Request) (*session.Session, error) {
	return h.registry.Get(chi.URLParam(r, "consultationID"))
}

func fieldPath(r *http.Request) models.FieldPath {
	return models.FieldPath{
		SectionID: chi.URLParam(r, "sectionID"),
		FieldID:   chi.URLParam(r, "fieldID"),
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: %v", errBodyTooLarge, err)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func (h *Handler) openConsultation(w http.ResponseWriter, r *http.Request) {
	s, created, err := h.registry.Open(r.Context(), chi.URLParam(r, "consultationID"))
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, openResponse{Created: created, Record: s.Record()})
}

func (h *Handler) closeConsultation(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Close(r.Context(), chi.URLParam(r, "consultationID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Record())
}

func (h *Handler) nextField(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, ok := s.NextField()
	if !ok {
		writeJSON(w, http.StatusOK, nextFieldResponse{Complete: true})
		return
	}
	writeJSON(w, http.StatusOK, nextFieldResponse{FieldPath: &p})
}

func (h *Handler) setFocus(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var p models.FieldPath
	if err := decode(w, r, &p); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := s.SetFocus(p); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) confirmField(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := s.ConfirmField(r.Context(), fieldPath(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) updateField(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var patch record.FieldPatch
	if err := decode(w, r, &patch); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := s.UpdateField(r.Context(), fieldPath(r), patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) ingestTranscripts(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req transcriptsRequest
	if err := decode(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := transcriptsResponse{Decisions: make([]decisionResponse, 0, len(req.Fragments)+len(req.Lines))}
	for _, fr := range req.Fragments {
		ch, err := models.ParseChannel(fr.Channel)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: %v", session.ErrInvalidChannel, err))
			return
		}
		// Caller-side STT often reports no confidence.
		conf := 1.0
		if fr.Confidence != nil {
			conf = *fr.Confidence
		}
		dec, err := s.IngestText(r.Context(), models.TranscriptFragment{
			Channel:    ch,
			Text:       fr.Text,
			Confidence: conf,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		resp.Decisions = append(resp.Decisions, decisionOf(dec))
	}
	if len(req.Lines) > 0 {
		decs, err := s.IngestUntagged(r.Context(), req.Lines)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		for _, dec := range decs {
			resp.Decisions = append(resp.Decisions, decisionOf(dec))
		}
	}
	if req.Flush {
		s.Flush()
	}
	writeJSON(w, http.StatusOK, resp)
}

func decisionOf(d gate.Decision) decisionResponse {
	return decisionResponse{Accepted: d.Accepted, Reason: string(d.Reason)}
}

func (h *Handler) pushAudio(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ch := models.Channel(chi.URLParam(r, "channel"))
	mimeType := strings.TrimSpace(r.Header.Get("Content-Type"))
	if mimeType == "" {
		mimeType = defaultAudioMime
	}

	pr, err := s.PushRecorder(ch, mimeType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := io.Copy(pr, http.MaxBytesReader(w, r.Body, maxAudioBody))
	if n > 0 {
		h.metrics.RecordAudioReceived(int(n))
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return
		}
		if errors.Is(err, dispatch.ErrRecorderStopped) {
			h.writeError(w, r, fmt.Errorf("%w: %s stopped while receiving", session.ErrChannelNotActive, ch))
			return
		}
		h.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	writeJSON(w, http.StatusAccepted, audioResponse{Channel: ch, Bytes: n, Buffered: pr.Buffered()})
}

func (h *Handler) stopChannel(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.StopTimeout)
	defer cancel()
	if err := s.StopChannel(ctx, models.Channel(chi.URLParam(r, "channel"))); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.hub.ServeWS(w, r, s.ID())
}
