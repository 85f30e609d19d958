package tcpline

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"encoding/json"
	"net"
	"sync"
	"time"
)

// lineSink is a session's outbound handle: a bounded queue drained by a
// dedicated writer goroutine, so broadcast latency never depends on one
// slow client. Deliver only enqueues; a full or closed queue is a
// delivery failure and the engine evicts the session.
type lineSink struct {
	conn         net.Conn
	queue        chan domain.Message
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newLineSink(conn net.Conn, queueSize int, writeTimeout time.Duration) *lineSink {
	s := &lineSink{
		conn:         conn,
		queue:        make(chan domain.Message, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	go s.writeLoop()
	return s
}

func (s *lineSink) Deliver(m domain.Message) error {
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

func (s *lineSink) writeLoop() {
	for {
		select {
		case <-s.done:
			s.drainQueue()
			_ = s.conn.Close()
			return
		case m := <-s.queue:
			if err := s.write(m); err != nil {
				s.closeOnce.Do(func() { close(s.done) })
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *lineSink) write(m domain.Message) error {
	blob, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	_, err = s.conn.Write(append(blob, '\n'))
	return err
}

// drainQueue flushes messages enqueued before the close, so a final
// notice (shutdown, eviction announcement) still reaches the peer.
// Every write stays deadline-bounded.
func (s *lineSink) drainQueue() {
	for {
		select {
		case m := <-s.queue:
			if err := s.write(m); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Close stops delivery and hands the connection to the writer, which
// drains the queue and then closes it. The connection close unblocks
// the session's pending read, which is the per-session cancellation
// primitive.
func (s *lineSink) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}
