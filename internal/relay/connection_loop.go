package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openconf/meshrelay/internal/api"
	"github.com/openconf/meshrelay/internal/sockets"
)

// ConnectionLoop owns the outbound side of one room connection: a
// buffered writer goroutine plus a periodic ping. Reads stay on the
// handler goroutine.
type ConnectionLoop struct {
	socket     sockets.Socket
	id         sockets.ParticipantID
	messages   chan interface{}
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pingTicker *time.Ticker
}

func NewConnectionLoop(socket sockets.Socket, id sockets.ParticipantID, pingInterval time.Duration) *ConnectionLoop {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionLoop{
		socket:     socket,
		id:         id,
		messages:   make(chan interface{}, 10),
		ctx:        ctx,
		cancel:     cancel,
		pingTicker: time.NewTicker(pingInterval),
	}
}

func (l *ConnectionLoop) Start() {
	l.wg.Add(2)
	go l.messageWriterLoop()
	go l.pingLoop()
}

func (l *ConnectionLoop) Stop() {
	l.cancel()
	l.pingTicker.Stop()
	close(l.messages)
	l.wg.Wait()
}

func (l *ConnectionLoop) SendMessage(msg interface{}) {
	select {
	case l.messages <- msg:
	case <-l.ctx.Done():
	}
}

func (l *ConnectionLoop) messageWriterLoop() {
	defer l.wg.Done()

	for {
		select {
		case msg, ok := <-l.messages:
			if !ok {
				return
			}
			if err := l.socket.WriteJSON(msg); err != nil {
				slog.Error("failed to send message to participant", "participantID", l.id, "error", err)
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *ConnectionLoop) pingLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.pingTicker.C:
			if err := l.socket.WriteJSON(api.ChannelMessage{Event: api.EventPing}); err != nil {
				slog.Error("failed to send ping", "participantID", l.id, "error", err)
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}
