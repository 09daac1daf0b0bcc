package alertapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/linnemanlabs/pulse/internal/alert"
	"github.com/linnemanlabs/pulse/internal/engine"
)

const (
	streamReadTimeout  = 60 * time.Second
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundFrame is a client message on the stream. Type selects the operation:
// "transcript" carries an authoritative full transcript for the debounced
// path, "force" flushes any pending delta immediately.
type inboundFrame struct {
	Type           string `json:"type"`
	FullTranscript string `json:"full_transcript,omitempty"`
}

type outboundFrame struct {
	Type  string `json:"type"`
	Alert any    `json:"alert,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleStream upgrades to a websocket that streams accepted alerts for one
// session while accepting transcript updates on the same connection. Alerts
// produced by any path (debounce, ceiling, force, sweep) are delivered.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patient_id")
	encounterID := r.URL.Query().Get("encounter_id")
	if patientID == "" || encounterID == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "patient_id and encounter_id are required"})
		return
	}

	key := engine.Key{PatientID: patientID, EncounterID: encounterID}
	if _, err := a.svc.StartSession(r.Context(), patientID, encounterID); err != nil {
		a.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn(r.Context(), "websocket upgrade failed", "session", key.String(), "error", err.Error())
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	alerts, unsubscribe := a.svc.Subscribe(key)
	defer unsubscribe()

	a.logger.Info(ctx, "alert stream opened", "session", key.String())

	// One writer goroutine owns the connection's write side; the read loop
	// feeds it through outbound.
	outbound := make(chan outboundFrame, 16)
	go a.streamWriter(ctx, cancel, conn, alerts, outbound)

	conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		return nil
	})

	for {
		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.Warn(ctx, "alert stream read failed", "session", key.String(), "error", err.Error())
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

		switch frame.Type {
		case "transcript":
			// Accepted alerts arrive via the subscription, not inline.
			if _, err := a.svc.UpdateTranscript(ctx, patientID, encounterID, frame.FullTranscript); err != nil {
				a.sendStreamError(ctx, outbound, err)
			}
		case "force":
			if _, err := a.svc.ForceProcess(ctx, patientID, encounterID); err != nil {
				a.sendStreamError(ctx, outbound, err)
			}
		default:
			a.sendStreamError(ctx, outbound, nil)
		}
	}
}

func (a *API) sendStreamError(ctx context.Context, outbound chan<- outboundFrame, err error) {
	msg := "unsupported frame type"
	if err != nil {
		if engine.IsValidation(err) {
			msg = err.Error()
		} else {
			msg = "internal error"
		}
	}
	select {
	case outbound <- outboundFrame{Type: "error", Error: msg}:
	case <-ctx.Done():
	}
}

func (a *API) streamWriter(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, alerts <-chan alert.Alert, outbound <-chan outboundFrame) {
	defer cancel()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	write := func(frame outboundFrame) bool {
		conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(frame); err != nil {
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case al, ok := <-alerts:
			if !ok {
				return
			}
			if !write(outboundFrame{Type: "alert", Alert: al}) {
				return
			}
		case frame := <-outbound:
			if !write(frame) {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
