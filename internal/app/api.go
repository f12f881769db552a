package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/nivest/internal/health"
	"github.com/MrWong99/nivest/internal/observe"
	"github.com/MrWong99/nivest/internal/voice"
	"github.com/MrWong99/nivest/pkg/finance"
)

// maxTextBody bounds the manual text request body.
const maxTextBody = 16 << 10

type textRequest struct {
	Text string `json:"text"`
}

type textResponse struct {
	Response string       `json:"response"`
	Status   voice.Status `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// routes builds the HTTP control surface.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/voice/start", a.handleStart)
	mux.HandleFunc("POST /api/voice/stop", a.handleStop)
	mux.HandleFunc("POST /api/voice/toggle", a.handleToggle)
	mux.HandleFunc("POST /api/voice/text", a.handleText)
	mux.HandleFunc("GET /api/voice/status", a.handleStatus)
	mux.HandleFunc("GET /api/finance/summary", a.handleSummary)
	health.New(a.checkers...).Register(mux)
	mux.Handle("GET /metrics", observe.Handler())
	return observe.Middleware(a.metrics, observe.WithSessionInfo(a.sessionInfo))(mux)
}

// sessionInfo tags voice control requests with the session they acted on.
func (a *App) sessionInfo() (id, state string) {
	st := a.assistant.Status()
	return st.SessionID, st.State.String()
}

func (a *App) handleStart(w http.ResponseWriter, _ *http.Request) {
	_ = a.assistant.Start(a.ctx)
	writeJSON(w, http.StatusAccepted, a.assistant.Status())
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	a.assistant.Stop()
	writeJSON(w, http.StatusOK, a.assistant.Status())
}

func (a *App) handleToggle(w http.ResponseWriter, _ *http.Request) {
	a.assistant.Toggle(a.ctx)
	writeJSON(w, http.StatusOK, a.assistant.Status())
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.assistant.Status())
}

// handleText submits manual input and waits for the response text.
func (a *App) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	resp, err := a.assistant.SubmitText(r.Context(), req.Text)
	if err != nil {
		writeJSON(w, textStatus(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Response: resp, Status: a.assistant.Status()})
}

// textStatus maps a SubmitText error to an HTTP status.
func textStatus(err error) int {
	switch {
	case errors.Is(err, voice.ErrEmptyText):
		return http.StatusBadRequest
	case errors.Is(err, voice.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, voice.ErrNoResponder):
		return http.StatusServiceUnavailable
	case errors.Is(err, voice.ErrResponseTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (a *App) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := finance.Current(r.Context(), a.store)
	if err != nil {
		observe.Logger(r.Context()).Error("finance summary failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "summary unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response failed", "err", err)
	}
}
