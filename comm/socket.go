// Package comm owns the websocket endpoints: the per-conversation chat
// socket and the per-user socket, both upgraded with gorilla/websocket and
// handed to their actor.
package comm

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"backend/entities"
)

const writeTimeout = 10 * time.Second

// Socket wraps a websocket connection behind entities.ClientSocket.
// gorilla allows a single concurrent writer, so every write goes through
// the mutex.
type Socket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	closed  bool
}

func NewSocket(conn *websocket.Conn) *Socket {
	return &Socket{conn: conn}
}

// SendFrame serializes the frame (timestamp defaulted) and writes it.
func (s *Socket) SendFrame(frame *entities.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return fmt.Errorf("Socket: SendFrame: connection already closed")
	}

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(frame.Stamped()); err != nil {
		s.closed = true
		return fmt.Errorf("Socket: SendFrame: error writing %s frame: %w", frame.Type, err)
	}
	return nil
}

// Close sends the close control message and releases the connection.
func (s *Socket) Close(code int, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	message := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteMessage(websocket.CloseMessage, message); err != nil {
		log.Printf("Socket: Close: error writing close message: %v", err)
	}
	return s.conn.Close()
}

// IsOpen reports whether the connection is still usable for writes.
func (s *Socket) IsOpen() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return !s.closed
}

// markClosed flags the socket after the read loop saw the peer go away.
func (s *Socket) markClosed() {
	s.writeMu.Lock()
	s.closed = true
	s.writeMu.Unlock()
}

var _ entities.ClientSocket = (*Socket)(nil)
