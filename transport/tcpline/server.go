// Package tcpline serves the persistent line-oriented transport: one
// plain-text display name on connect, then chat or /command lines in,
// newline-delimited JSON messages out.
package tcpline

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"chat-relay/runtime"
)

const maxLineBytes = 1 << 20

type Server struct {
	log              *slog.Logger
	engine           *runtime.Engine
	listener         net.Listener
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	queueSize        int
}

// NewServer wraps an already-bound listener; binding happens in main so
// a port conflict is fatal at startup instead of a supervised restart.
func NewServer(log *slog.Logger, engine *runtime.Engine, listener net.Listener,
	handshakeTimeout, writeTimeout time.Duration, queueSize int) *Server {
	return &Server{
		log:              log,
		engine:           engine,
		listener:         listener,
		handshakeTimeout: handshakeTimeout,
		writeTimeout:     writeTimeout,
		queueSize:        queueSize,
	}
}

func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	s.log.Info("tcp transport listening", "address", s.listener.Addr().String())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("tcp accept: %w", err)
		}
		go s.handle(conn)
	}
}

// handle owns one connection for its whole lifetime: handshake, read
// loop, removal. Any exit path removes the session, so an abrupt reset
// produces exactly one departure notice.
func (s *Server) handle(conn net.Conn) {
	peer := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 0, 4096), maxLineBytes)
	if !reader.Scan() {
		s.log.Warn("no display name received, closing", "peer", peer)
		_ = conn.Close()
		return
	}

	sink := newLineSink(conn, s.queueSize, s.writeTimeout)
	view, err := s.engine.Join(reader.Text(), peer, sink)
	if err != nil {
		s.log.Warn("handshake rejected", "peer", peer, "error", err)
		_ = sink.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	for reader.Scan() {
		line := strings.TrimSpace(reader.Text())
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
