package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"anamnesis-transcript-service/internal/events"
	"anamnesis-transcript-service/internal/observability"
	"anamnesis-transcript-service/internal/observability/logging"
	"anamnesis-transcript-service/internal/observability/metrics"
	"anamnesis-transcript-service/internal/service/record"
	"anamnesis-transcript-service/internal/service/session"
)

// maxAudioBody caps one pushed audio request.
const maxAudioBody = 10 << 20

// Handler serves the REST interface of the interactive caller.
type Handler struct {
	registry *session.Registry
	hub      *events.Hub
	metrics  *metrics.Metrics
	log      zerolog.Logger

	// StopTimeout bounds how long a channel stop waits for its last window.
	StopTimeout time.Duration
}

// NewHandler creates a Handler. A nil hub disables the websocket route.
func NewHandler(reg *session.Registry, hub *events.Hub, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Handler{
		registry:    reg,
		hub:         hub,
		metrics:     m,
		log:         logging.WithComponent("http"),
		StopTimeout: 45 * time.Second,
	}
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(h *Handler, ready observability.ReadyFunc) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1/consultations/{consultationID}", func(r chi.Router) {
		r.Post("/", h.openConsultation)
		r.Delete("/", h.closeConsultation)

		r.Get("/record", h.getRecord)
		r.Get("/next-field", h.nextField)
		r.Put("/focus", h.setFocus)
		r.Post("/fields/{sectionID}/{fieldID}/confirm", h.confirmField)
		r.Patch("/fields/{sectionID}/{fieldID}", h.updateField)

		r.Post("/transcripts", h.ingestTranscripts)
		r.Post("/channels/{channel}/audio", h.pushAudio)
		r.Delete("/channels/{channel}", h.stopChannel)

		if h.hub != nil {
			r.Get("/ws", h.subscribe)
		}
	})

	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("path", r.URL.Path).
			Str("requestId", middleware.GetReqID(r.Context())).
			Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, record.ErrUnknownField),
		errors.Is(err, session.ErrChannelNotActive):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidChannel),
		errors.Is(err, record.ErrInvalidPatch),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrChannelActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
