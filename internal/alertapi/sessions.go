package alertapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/pulse/internal/alert"
	"github.com/linnemanlabs/pulse/internal/engine"
)

// sessionRequest is the shared payload for session-scoped operations.
type sessionRequest struct {
	PatientID   string `json:"patient_id"`
	EncounterID string `json:"encounter_id"`
}

type processRequest struct {
	sessionRequest
	TranscriptSegment string `json:"transcript_segment"`
	FullTranscript    string `json:"full_transcript,omitempty"`
}

type transcriptRequest struct {
	sessionRequest
	FullTranscript string `json:"full_transcript"`
}

type alertsResponse struct {
	Success    bool          `json:"success"`
	Alerts     []alert.Alert `json:"alerts"`
	AlertCount int           `json:"alert_count"`
	Timestamp  *time.Time    `json:"timestamp,omitempty"`
}

type statusResponse struct {
	SessionActive   bool             `json:"session_active"`
	SessionInfo     *engine.Snapshot `json:"session_info,omitempty"`
	ProcessingStats engine.Stats     `json:"processing_stats"`
}

func spanSession(r *http.Request, patientID, encounterID string) {
	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("pulse.session.patient_id", patientID),
		attribute.String("pulse.session.encounter_id", encounterID),
	)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return false
	}
	return true
}

func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !a.decode(w, r, &req) {
		return
	}
	spanSession(r, req.PatientID, req.EncounterID)

	stats, err := a.svc.StartSession(r.Context(), req.PatientID, req.EncounterID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	key := engine.Key{PatientID: req.PatientID, EncounterID: req.EncounterID}
	a.writeJSON(w, http.StatusOK, map[string]any{"session_key": key.String(), "stats": stats})
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !a.decode(w, r, &req) {
		return
	}
	spanSession(r, req.PatientID, req.EncounterID)

	stats, err := a.svc.EndSession(r.Context(), req.PatientID, req.EncounterID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

// handleProcess is the synchronous path: apply the update, evaluate now, and
// return only the alerts this call newly produced.
func (a *API) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if !a.decode(w, r, &req) {
		return
	}
	spanSession(r, req.PatientID, req.EncounterID)

	alerts, err := a.svc.Process(r.Context(), req.PatientID, req.EncounterID, req.TranscriptSegment, req.FullTranscript)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	now := time.Now().UTC()
	a.writeJSON(w, http.StatusOK, alertsResponse{
		Success:    true,
		Alerts:     alerts,
		AlertCount: len(alerts),
		Timestamp:  &now,
	})
}

// handleUpdateTranscript feeds the debounced path: the evaluation is
// scheduled, not run inline, so the response carries only the session state.
func (a *API) handleUpdateTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if !a.decode(w, r, &req) {
		return
	}
	spanSession(r, req.PatientID, req.EncounterID)

	snap, err := a.svc.UpdateTranscript(r.Context(), req.PatientID, req.EncounterID, req.FullTranscript)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"session_info": snap})
}

func (a *API) handleForceProcess(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !a.decode(w, r, &req) {
		return
	}
	spanSession(r, req.PatientID, req.EncounterID)

	alerts, err := a.svc.ForceProcess(r.Context(), req.PatientID, req.EncounterID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []alert.Alert{}
	}
	a.writeJSON(w, http.StatusOK, alertsResponse{
		Success:    true,
		Alerts:     alerts,
		AlertCount: len(alerts),
	})
}

func (a *API) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	encounterID := r.URL.Query().Get("encounter_id")
	spanSession(r, patientID, encounterID)

	snap, ok, err := a.svc.SessionInfo(patientID, encounterID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	resp := statusResponse{SessionActive: ok, ProcessingStats: a.svc.Stats()}
	if ok {
		resp.SessionInfo = &snap
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.svc.Stats())
}
