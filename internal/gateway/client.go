package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/itellico/joi-gateway/internal/bus"
	"github.com/itellico/joi-gateway/pkg/protocol"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = (pongTimeout * 9) / 10
)

// Client is one connected WebSocket session. Reads run on the calling
// goroutine (Run blocks until the connection closes); writes are
// serialized through a buffered channel so concurrent handlers and the
// bus-event subscription never race on the same *websocket.Conn.
type Client struct {
	id     string
	conn   *websocket.Conn
	server *Server

	send chan []byte

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // run_id -> cancel, for chat.interrupt
}

func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		server:  s,
		send:    make(chan []byte, 64),
		cancels: make(map[string]context.CancelFunc),
	}
}

func (c *Client) ID() string { return c.id }

// Run drives the client's read loop and starts its write pump. It blocks
// until the connection is closed or ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("gateway: websocket read error", "client", c.id, "error", err)
			}
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.sendFrame(protocol.ErrorFrame("", "bad_frame", "malformed json"))
			continue
		}

		reqCtx, cancel := context.WithCancel(ctx)
		if frame.Type == protocol.TypeChatSend {
			c.trackCancel(frame.ID, cancel)
		}

		go func(f protocol.Frame) {
			defer cancel()
			c.server.router.Handle(reqCtx, c, &f)
			if f.Type == protocol.TypeChatSend {
				c.untrackCancel(f.ID)
			}
		}(frame)
	}
}

func (c *Client) trackCancel(runID string, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancels[runID] = cancel
	c.mu.Unlock()
}

func (c *Client) untrackCancel(runID string) {
	c.mu.Lock()
	delete(c.cancels, runID)
	c.mu.Unlock()
}

// Interrupt cancels the context driving run_id's in-flight turn, if any.
func (c *Client) Interrupt(runID string) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[runID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendFrame(f *protocol.Frame) {
	raw, err := json.Marshal(f)
	if err != nil {
		slog.Warn("gateway: marshal frame failed", "error", err)
		return
	}
	select {
	case c.send <- raw:
	default:
		slog.Warn("gateway: client send buffer full, dropping frame", "client", c.id, "type", f.Type)
	}
}

func (c *Client) sendPush(typ string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("gateway: marshal push payload failed", "error", err, "type", typ)
		return
	}
	c.sendFrame(&protocol.Frame{Type: typ, Payload: raw})
}

// SendEvent forwards a bus.Event (e.g. review.created, cron.ran) to this
// client as a push frame keyed by the event name.
func (c *Client) SendEvent(event bus.Event) {
	c.sendPush(event.Name, event.Payload)
}

func (c *Client) Close() {
	close(c.send)
	c.conn.Close()
}
