package client

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notabersama/pkg/logger"
	"notabersama/socket"
)

// Conn is the process-wide realtime connection to the hub. It is created once
// per session and handed to every agent that needs it; agents never dial on
// their own. Incoming messages are dispatched to subscribers one at a time,
// in connection order.
type Conn struct {
	ws       *websocket.Conn
	clientID string

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]map[*Subscription]bool

	done      chan struct{}
	closeOnce sync.Once
}

// Subscription is the handle returned by Subscribe. Cancel releases it
// exactly once; further calls are no-ops.
type Subscription struct {
	conn *Conn
	kind string
	fn   func(socket.Message)
	once sync.Once
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.conn.mu.Lock()
		delete(s.conn.subs[s.kind], s)
		s.conn.mu.Unlock()
	})
}

// Dial connects to the hub behind baseURL (an http:// or https:// address).
// An empty clientID gets a generated identity.
func Dial(baseURL, clientID string) (*Conn, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	}

	wsURL := "ws" + strings.TrimPrefix(strings.TrimSuffix(baseURL, "/"), "http")
	wsURL += "/ws?clientId=" + url.QueryEscape(clientID)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		ws:       ws,
		clientID: clientID,
		subs:     make(map[string]map[*Subscription]bool),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) ClientID() string { return c.clientID }

// Done is closed once the connection stops receiving, whether the peer went
// away or Close was called. After that only the store's REST path works.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Connected reports whether the realtime channel is still live, for status
// display.
func (c *Conn) Connected() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Subscribe registers fn for every incoming message of the given kind.
func (c *Conn) Subscribe(kind string, fn func(socket.Message)) *Subscription {
	sub := &Subscription{conn: c, kind: kind, fn: fn}
	c.mu.Lock()
	if c.subs[kind] == nil {
		c.subs[kind] = make(map[*Subscription]bool)
	}
	c.subs[kind][sub] = true
	c.mu.Unlock()
	return sub
}

func (c *Conn) Send(msg socket.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readLoop() {
	defer close(c.done)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.Close()
			return
		}

		var msg socket.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Sugar.Warnf("Dropping unparseable message from hub: %v", err)
			continue
		}

		c.mu.Lock()
		handlers := make([]func(socket.Message), 0, len(c.subs[msg.Type]))
		for sub := range c.subs[msg.Type] {
			handlers = append(handlers, sub.fn)
		}
		c.mu.Unlock()

		// Handlers run on the read goroutine, so each subscriber observes
		// messages in connection order.
		for _, fn := range handlers {
			fn(msg)
		}
	}
}
