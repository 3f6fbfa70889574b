package daemon

// HTTP API:
//
//	GET  /health     liveness and store counts
//	GET  /metrics    Prometheus metrics
//	POST /v1/chat    process a message and return the reply
//	POST /v1/plan    dry-run the stages and the dispatcher
//	GET  /v1/events  SSE stream of chat, decision and reminder events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nous-labs/scribe/pkg/channel"
	"github.com/nous-labs/scribe/pkg/plan"
)

// Handler returns the HTTP API mux.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", d.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/chat", d.handleChat)
	mux.HandleFunc("/v1/plan", d.handlePlan)
	mux.HandleFunc("/v1/events", d.handleEvents)
	return mux
}

// serveHTTP runs the API until ctx is cancelled.
func (d *Daemon) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.config.HTTPAddr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("API listening", "addr", d.config.HTTPAddr,
		"endpoints", []string{"/health", "/metrics", "/v1/chat", "/v1/plan", "/v1/events"})
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http api: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !d.healthy.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(d.startedAt).Round(time.Second).String(),
		"provider": d.gateway.Provider(),
		"semantic": d.search.semantic() != nil,
		"store":    d.store.Stats(r.Context()),
	})
}

// chatRequest is the JSON body for POST /v1/chat and /v1/plan.
type chatRequest struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	Text     string `json:"text"`
}

func (d *Daemon) decodeChat(w http.ResponseWriter, r *http.Request) (chatRequest, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return chatRequest{}, false
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id and text are required")
		return chatRequest{}, false
	}
	return req, true
}

// chatResponse is the JSON response for POST /v1/chat.
type chatResponse struct {
	Reply    string    `json:"reply"`
	Decision string    `json:"decision"`
	Plan     plan.Plan `json:"plan"`
	Elapsed  string    `json:"elapsed"`
}

func (d *Daemon) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := d.decodeChat(w, r)
	if !ok {
		return
	}
	turn, err := d.ProcessMessage(r.Context(), channel.Message{
		Source:     "http",
		SenderID:   req.UserID,
		SenderName: req.UserName,
		RoomID:     "http:" + req.UserID,
		Content:    req.Text,
		Timestamp:  time.Now().UnixMilli(),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Reply:    turn.Reply,
		Decision: string(turn.Decision.Kind),
		Plan:     turn.Decision.Plan,
		Elapsed:  turn.Elapsed.Round(time.Millisecond).String(),
	})
}

func (d *Daemon) handlePlan(w http.ResponseWriter, r *http.Request) {
	req, ok := d.decodeChat(w, r)
	if !ok {
		return
	}
	out, dec := d.DryRun(r.Context(), req.UserID, req.Text)
	writeJSON(w, http.StatusOK, map[string]any{"outcome": out, "decision": dec})
}

// handleEvents streams events as SSE. Recent events are replayed on connect.
func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	events, cancel := d.events.Subscribe()
	defer cancel()
	slog.Info("SSE client connected", "subscribers", d.events.SubscriberCount())

	for _, e := range d.events.Recent(50) {
		fmt.Fprintf(w, "data: %s\n\n", e.JSON())
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", evt.JSON())
			flusher.Flush()
		}
	}
}
