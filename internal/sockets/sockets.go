// Package sockets wraps the relay's WebSocket connections behind a
// small interface with serialized writes, and pools them keyed by
// participant identifier so point-to-point signaling can be routed.
package sockets

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// ParticipantID is the addressing key for a room connection. It is
// stable for the lifetime of one join session.
type ParticipantID string

type Socket interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

type socketImpl struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func NewSocket(conn *websocket.Conn) Socket {
	return &socketImpl{ws: conn}
}

func (s *socketImpl) ReadJSON(v interface{}) error {
	return s.ws.ReadJSON(v)
}

// WriteJSON serializes concurrent writers; the fanout path and the
// ping loop share one underlying connection.
func (s *socketImpl) WriteJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *socketImpl) Close() error {
	return s.ws.Close()
}
