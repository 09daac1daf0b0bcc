package alertapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

func dialStream(t *testing.T, r chi.Router, query string) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/sessions/stream" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) outboundFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame outboundFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestHandleStream_RequiresSessionParams(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/stream?patient_id=p1", http.NoBody)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleStream_DeliversAlerts(t *testing.T) {
	t.Parallel()

	r, svc := newTestRouter(t)
	conn := dialStream(t, r, "?patient_id=p1&encounter_id=e1")

	// The stream opens the session itself.
	if _, ok, _ := svc.SessionInfo("p1", "e1"); !ok {
		t.Fatal("stream did not create the session")
	}

	// Transcript goes through the debounced path; force flushes it now.
	if err := conn.WriteJSON(inboundFrame{Type: "transcript", FullTranscript: "patient takes warfarin and aspirin"}); err != nil {
		t.Fatalf("write transcript frame: %v", err)
	}
	if err := conn.WriteJSON(inboundFrame{Type: "force"}); err != nil {
		t.Fatalf("write force frame: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != "alert" {
		t.Fatalf("frame type = %q, want alert (error=%q)", frame.Type, frame.Error)
	}

	raw, _ := json.Marshal(frame.Alert)
	var a struct {
		Type        string `json:"type"`
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		t.Fatalf("decode alert payload: %v", err)
	}
	if a.Type != "DRUG_INTERACTION" {
		t.Errorf("alert type = %q, want DRUG_INTERACTION", a.Type)
	}
	if a.Fingerprint == "" {
		t.Error("alert missing fingerprint")
	}
}

func TestHandleStream_UnsupportedFrameType(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)
	conn := dialStream(t, r, "?patient_id=p1&encounter_id=e1")

	if err := conn.WriteJSON(inboundFrame{Type: "bogus"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != "error" {
		t.Fatalf("frame type = %q, want error", frame.Type)
	}
	if frame.Error == "" {
		t.Error("error frame missing message")
	}
}

func TestHandleStream_ValidationErrorReported(t *testing.T) {
	t.Parallel()

	r, _ := newTestRouter(t)
	conn := dialStream(t, r, "?patient_id=p1&encounter_id=e1")

	// Empty full transcript is rejected by the engine; the stream stays up.
	if err := conn.WriteJSON(inboundFrame{Type: "transcript"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != "error" {
		t.Fatalf("frame type = %q, want error", frame.Type)
	}
}
