// Package httpapi serves the stateless request/response transport:
// join, send, poll, leave. There is no push channel; clients poll the
// history by index, and polling doubles as the liveness signal consumed
// by the sweeper.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"

	"chat-relay/domain"
	"chat-relay/runtime"
)

type Server struct {
	log      *slog.Logger
	engine   *runtime.Engine
	listener net.Listener
	validate *validator.Validate
}

func NewServer(log *slog.Logger, engine *runtime.Engine, listener net.Listener) *Server {
	return &Server{
		log:      log,
		engine:   engine,
		listener: listener,
		validate: validator.New(),
	}
}

// pollSink is the outbound handle of a poll-based session. Delivery is a
// no-op success: pollers read broadcasts from the history sequence, and
// dead sessions are reclaimed by the sweeper rather than write failures.
type pollSink struct{}

func (pollSink) Deliver(domain.Message) error { return nil }
func (pollSink) Close() error                 { return nil }
func (pollSink) PollOnly()                    {}

func (s *Server) Router() http.Handler {
	router := httprouter.New()
	router.POST("/join", s.handleJoin)
	router.POST("/message", s.handleMessage)
	router.GET("/messages", s.handleMessages)
	router.POST("/leave", s.handleLeave)
	router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		w.WriteHeader(http.StatusOK)
	})
	return router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.log.Info("http transport listening", "address", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

type joinRequest struct {
	Username string `json:"username" validate:"omitempty,max=64"`
}

type messageRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Message   string `json:"message" validate:"required"`
}

type leaveRequest struct {
	SessionID string `json:"session_id" validate:"required"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body joinRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	username := r.URL.Query().Get("username")
	if username == "" {
		username = body.Username
	}
	if err := s.validate.Struct(joinRequest{Username: username}); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid username"})
		return
	}
	if username == "" {
		username = "Anonymous"
	}

	view, err := s.engine.Join(username, clientIP(r), pollSink{})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"session_id":   view.ID,
		"username":     view.Name,
		"online_count": s.engine.OnlineCount(),
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body messageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing session_id or message"})
		return
	}
	// blank lines are dropped on the persistent transports too
	text := strings.TrimSpace(body.Message)
	if text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "empty message"})
		return
	}

	msg, _, err := s.engine.Submit(body.SessionID, text)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	since, _ := strconv.Atoi(r.URL.Query().Get("since"))

	// polling doubles as the heartbeat for the sweeper
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		if !s.engine.RefreshActivity(sessionID) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":           "session not found or expired",
				"session_expired": true,
			})
			return
		}
	}

	messages, total := s.engine.MessagesSince(since)
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"messages": messages,
		"total":    total,
	})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body leaveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing session_id"})
		return
	}

	s.engine.Leave(body.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// clientIP keys the peer-identity index by address only: every request
// of a polling client arrives on a fresh port, so the port cannot
// identify the peer the way it does on persistent connections.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
