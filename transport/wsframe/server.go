// Package wsframe serves the persistent message-framed transport over
// WebSocket: the first frame is the plain display name, every later
// frame a chat or /command line. Outbound frames carry one JSON message
// each.
package wsframe

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chat-relay/runtime"
)

const (
	maxMessageSize = 1 << 20
	pongWait       = 60 * time.Second
)

type Server struct {
	log              *slog.Logger
	engine           *runtime.Engine
	listener         net.Listener
	upgrader         websocket.Upgrader
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	queueSize        int
}

func NewServer(log *slog.Logger, engine *runtime.Engine, listener net.Listener,
	handshakeTimeout, writeTimeout time.Duration, queueSize int) *Server {
	return &Server{
		log:      log,
		engine:   engine,
		listener: listener,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients connect from any page; there is no
			// origin-based trust model in this protocol.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		handshakeTimeout: handshakeTimeout,
		writeTimeout:     writeTimeout,
		queueSize:        queueSize,
	}
}

func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)

	srv := &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	s.log.Info("websocket transport listening", "address", s.listener.Addr().String())
	if err := srv.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "peer", r.RemoteAddr, "error", err)
		return
	}
	peer := conn.RemoteAddr().String()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	_, nameFrame, err := conn.ReadMessage()
	if err != nil {
		s.log.Warn("no display name received, closing", "peer", peer)
		_ = conn.Close()
		return
	}

	// ping interval stays under the pong deadline so a healthy client
	// is never timed out between pings
	sink := newFrameSink(conn, s.queueSize, s.writeTimeout, pongWait*9/10)
	view, err := s.engine.Join(string(nameFrame), peer, sink)
	if err != nil {
		s.log.Warn("handshake rejected", "peer", peer, "error", err)
		_ = sink.Close()
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read error", "name", view.Name, "error", err)
			}
			break
		}
		line := strings.TrimSpace(string(frame))
		if line == "" {
			continue
		}
		msg, isReply, err := s.engine.Submit(view.ID, line)
		if err != nil {
			break
		}
		if isReply {
			if err := s.engine.Unicast(view.ID, msg); err != nil {
				break
			}
		}
	}

	s.engine.Leave(view.ID)
}
