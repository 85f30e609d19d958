package wsframe

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// frameSink drains a bounded queue onto the WebSocket connection.
// gorilla/websocket allows a single concurrent writer, so the write pump
// is the only goroutine ever calling WriteMessage, pings included.
type frameSink struct {
	conn         *websocket.Conn
	queue        chan domain.Message
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
}

func newFrameSink(conn *websocket.Conn, queueSize int, writeTimeout, pingInterval time.Duration) *frameSink {
	s := &frameSink{
		conn:         conn,
		queue:        make(chan domain.Message, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
	}
	go s.writePump()
	return s
}

func (s *frameSink) Deliver(m domain.Message) error {
	select {
	case <-s.done:
		return errors.ErrSinkClosed
	default:
	}
	select {
	case s.queue <- m:
		return nil
	case <-s.done:
		return errors.ErrSinkClosed
	default:
		return errors.ErrSinkFull
	}
}

func (s *frameSink) writePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.drainQueue()
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case m := <-s.queue:
			if err := s.writeFrame(m); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		}
	}
}

func (s *frameSink) writeFrame(m domain.Message) error {
	blob, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, blob)
}

// drainQueue flushes frames enqueued before the close, so a final
// notice still reaches the peer ahead of the close frame.
func (s *frameSink) drainQueue() {
	for {
		select {
		case m := <-s.queue:
			if err := s.writeFrame(m); err != nil {
				return
			}
		default:
			return
		}
	}
}

// close stops delivery; the write pump drains the queue, sends the
// close frame and closes the connection on its way out.
func (s *frameSink) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *frameSink) Close() error {
	s.close()
	return nil
}
