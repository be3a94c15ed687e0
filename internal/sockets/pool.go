package sockets

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
)

type SocketPool struct {
	mutex   sync.Mutex
	sockets map[ParticipantID]Socket
}

func NewSocketPool() *SocketPool {
	return &SocketPool{
		sockets: make(map[ParticipantID]Socket),
	}
}

// AddSocket registers a connection under the participant's identifier.
// A previous connection for the same participant is closed; the new
// join session supersedes it.
func (p *SocketPool) AddSocket(id ParticipantID, conn *websocket.Conn) Socket {
	soc := NewSocket(conn)

	p.mutex.Lock()
	defer p.mutex.Unlock()
	if oldConn, contains := p.sockets[id]; contains {
		_ = oldConn.Close()
	}
	p.sockets[id] = soc
	return soc
}

func (p *SocketPool) GetSocket(id ParticipantID) Socket {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if conn, contains := p.sockets[id]; contains {
		return conn
	}
	return nil
}

// Put registers an already-wrapped socket. The websocket upgrade path
// goes through AddSocket; Put serves callers that carry their own
// Socket implementation.
func (p *SocketPool) Put(id ParticipantID, s Socket) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if oldConn, contains := p.sockets[id]; contains {
		_ = oldConn.Close()
	}
	p.sockets[id] = s
}

// RemoveSocket drops the pool entry without closing, for handlers that
// own the connection's lifecycle themselves.
func (p *SocketPool) RemoveSocket(id ParticipantID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.sockets, id)
}

func (p *SocketPool) CloseSocket(id ParticipantID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if oldConn, contains := p.sockets[id]; contains {
		_ = oldConn.Close()
		delete(p.sockets, id)
	}
}

func (p *SocketPool) Range(f func(id ParticipantID, s Socket) bool) {
	p.mutex.Lock()
	snapshot := make(map[ParticipantID]Socket, len(p.sockets))
	for id, s := range p.sockets {
		snapshot[id] = s
	}
	p.mutex.Unlock()

	for id, s := range snapshot {
		if !f(id, s) {
			return
		}
	}
}

func (p *SocketPool) Len() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.sockets)
}

func (p *SocketPool) Close() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, conn := range p.sockets {
		_ = conn.Close()
	}
	p.sockets = make(map[ParticipantID]Socket)
}
