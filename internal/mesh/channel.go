package mesh

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/openconf/meshrelay/internal/api"
)

// Channel is one client-side topic connection to the relay. Writes are
// serialized; reads run on a dedicated goroutine that hands every
// message to the supplied callback.
type Channel struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// DialChannel connects to a relay topic endpoint, e.g.
// wss://relay/ws/rooms/ROOM/signal?participantId=ID.
func DialChannel(url string) (*Channel, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &Channel{conn: conn, closed: make(chan struct{})}, nil
}

// ReadLoop reads messages until the connection dies, answering pings
// inline and passing everything else to handle. Blocks; run it on its
// own goroutine.
func (c *Channel) ReadLoop(handle func(api.ChannelMessage)) {
	for {
		var msg api.ChannelMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.closed:
			default:
				slog.Debug("channel read ended", "error", err)
			}
			return
		}

		if msg.Event == api.EventPing {
			if err := c.Send(api.ChannelMessage{Event: api.EventPong}); err != nil {
				return
			}
			continue
		}

		handle(msg)
	}
}

func (c *Channel) Send(msg api.ChannelMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
