package socket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notabersama/pkg/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CheckOrigin allows connections from the dev frontend
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one WebSocket connection. A connection may join any number of
// rooms; membership is tracked in rooms, which only the hub goroutine touches.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	ID   string
	Send chan []byte

	rooms map[string]bool
}

func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Sugar.Error(err)
		return
	}

	// Clients may bring their own identity; otherwise the hub assigns one.
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	client := &Client{
		Hub:   hub,
		Conn:  conn,
		ID:    clientID,
		Send:  make(chan []byte, 256),
		rooms: make(map[string]bool),
	}

	client.Hub.Register <- client

	// Start reading and writing in separate goroutines
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, rawMessage, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Sugar.Errorf("error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(rawMessage, &msg); err != nil {
			c.sendError("malformed message")
			continue
		}

		// Overwrite the sender identity with the server-authoritative value
		// so nobody can speak on behalf of another client.
		msg.ClientID = c.ID

		c.Hub.Inbound <- Frame{Client: c, Message: msg}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second) // Send ping every 30s
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.Send:
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.Conn.WriteMessage(websocket.TextMessage, message)
		case <-ticker.C:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return // Connection is dead
			}
		}
	}
}

// sendError answers the sender, and only the sender, with an ERROR message.
func (c *Client) sendError(text string) {
	rawErr, _ := json.Marshal(ErrorPayload{Message: text})
	payload, _ := json.Marshal(Message{Type: ErrorType, Payload: rawErr})
	select {
	case c.Send <- payload:
	default:
		logger.Sugar.Warnf("Client %s's send buffer was full during error send.", c.ID)
	}
}
