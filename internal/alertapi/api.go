package alertapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/pulse/internal/alert"
	"github.com/linnemanlabs/pulse/internal/engine"
)

// EngineService defines the business operations alertapi needs.
type EngineService interface {
	StartSession(ctx context.Context, patientID, encounterID string) (engine.Stats, error)
	EndSession(ctx context.Context, patientID, encounterID string) (engine.Stats, error)
	Process(ctx context.Context, patientID, encounterID, segment, fullTranscript string) ([]alert.Alert, error)
	UpdateTranscript(ctx context.Context, patientID, encounterID, fullTranscript string) (engine.Snapshot, error)
	ForceProcess(ctx context.Context, patientID, encounterID string) ([]alert.Alert, error)
	SessionInfo(patientID, encounterID string) (engine.Snapshot, bool, error)
	Stats() engine.Stats
	Subscribe(key engine.Key) (<-chan alert.Alert, func())
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    EngineService
}

// New creates a new API handler.
func New(logger log.Logger, svc EngineService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("engine service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/process", a.handleProcess)
		r.Get("/stats", a.handleStats)
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/start", a.handleStartSession)
			r.Post("/end", a.handleEndSession)
			r.Post("/transcript", a.handleUpdateTranscript)
			r.Post("/force", a.handleForceProcess)
			r.Get("/status", a.handleSessionStatus)
			r.Get("/stream", a.handleStream)
		})
	})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto the response contract: invalid input is
// 400, a missing session is 404, everything else is an opaque 500.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case engine.IsValidation(err):
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, engine.ErrSessionNotFound):
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
	default:
		a.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
		a.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
