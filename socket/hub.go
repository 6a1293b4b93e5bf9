package socket

import (
	"encoding/json"
	"sort"
	"sync"

	"notabersama/pkg/logger"
)

// Frame is a message read off a client's connection, paired with the
// connection it came from so rejections can be answered to the sender only.
type Frame struct {
	Client  *Client
	Message Message
}

// Hub owns one room per note id. All membership mutation happens on the
// Run goroutine, so join, edit fan-out and leave for a room never interleave.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Register   chan *Client
	Unregister chan *Client
	Inbound    chan Frame
	// Broadcast carries notifications from the REST save path. ClientID, if
	// set, names the member that must not receive its own update back.
	Broadcast chan Message

	clients map[*Client]bool
	mu      sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan Frame),
		Broadcast:  make(chan Message),
		clients:    make(map[*Client]bool),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.Unregister:
			var left []string
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for noteID := range client.rooms {
					delete(h.Rooms[noteID], client)
					if len(h.Rooms[noteID]) == 0 {
						delete(h.Rooms, noteID)
						logger.Sugar.Infof("Closed empty room: %s", noteID)
					} else {
						left = append(left, noteID)
					}
				}
				close(client.Send)
			}
			h.mu.Unlock()

			// Remaining members see the departure exactly once.
			for _, noteID := range left {
				h.broadcastPresence(noteID)
			}

		case frame := <-h.Inbound:
			h.handleFrame(frame.Client, frame.Message)

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}
			h.broadcastToRoom(msg.NoteID, payload, msg.ClientID)
		}
	}
}

func (h *Hub) handleFrame(client *Client, msg Message) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	switch msg.Type {
	case JoinType:
		if msg.NoteID == "" {
			client.sendError("join requires a note id")
			return
		}
		h.mu.Lock()
		if h.Rooms[msg.NoteID] == nil {
			h.Rooms[msg.NoteID] = make(map[*Client]bool)
		}
		h.Rooms[msg.NoteID][client] = true
		client.rooms[msg.NoteID] = true
		h.mu.Unlock()

		// Everyone, the new joiner included, gets the fresh snapshot.
		h.broadcastPresence(msg.NoteID)

	case EditType:
		h.handleEdit(client, msg)

	default:
		client.sendError("unknown message type: " + msg.Type)
	}
}

// handleEdit validates sender membership and the delta, then relays the edit
// to every other member of the room. Senders never receive their own edits.
func (h *Hub) handleEdit(client *Client, msg Message) {
	h.mu.Lock()
	member := client.rooms[msg.NoteID]
	h.mu.Unlock()
	if msg.NoteID == "" || !member {
		logger.Sugar.Warnf("Rejected edit from %s: not a member of %q", client.ID, msg.NoteID)
		client.sendError("not a member of note " + msg.NoteID)
		return
	}

	var delta EditDelta
	if err := json.Unmarshal(msg.Payload, &delta); err != nil {
		client.sendError("malformed edit payload")
		return
	}
	if delta.Empty() {
		client.sendError("edit changes nothing")
		return
	}

	delta.Source = RealtimeSource
	rawDelta, err := json.Marshal(delta)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling edit delta: %v", err)
		return
	}
	payload, err := json.Marshal(Message{
		Type:     EditType,
		NoteID:   msg.NoteID,
		ClientID: client.ID,
		Payload:  rawDelta,
	})
	if err != nil {
		logger.Sugar.Errorf("Error marshalling edit broadcast: %v", err)
		return
	}
	h.broadcastToRoom(msg.NoteID, payload, client.ID)
}

func (h *Hub) broadcastPresence(noteID string) {
	var clientsToSend []*Client
	var ids []string

	h.mu.Lock()
	for client := range h.Rooms[noteID] {
		clientsToSend = append(clientsToSend, client)
		ids = append(ids, client.ID)
	}
	h.mu.Unlock()

	if len(clientsToSend) == 0 {
		return
	}
	sort.Strings(ids)

	rawIDs, err := json.Marshal(ids)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	payload, _ := json.Marshal(Message{Type: PresenceType, NoteID: noteID, Payload: rawIDs})

	for _, client := range clientsToSend {
		select {
		case client.Send <- payload:
		default:
			logger.Sugar.Warnf("Client %s's send buffer was full during presence update.", client.ID)
		}
	}
}

func (h *Hub) broadcastToRoom(noteID string, payload []byte, excludeID string) {
	// Collect recipients under the lock, send outside it.
	h.mu.Lock()
	clientsToSend := make([]*Client, 0, len(h.Rooms[noteID]))
	for client := range h.Rooms[noteID] {
		if excludeID != "" && client.ID == excludeID {
			continue
		}
		clientsToSend = append(clientsToSend, client)
	}
	h.mu.Unlock()

	for _, client := range clientsToSend {
		select {
		case client.Send <- payload:
		default:
			// A full buffer means the client is lagging; drop rather than
			// block the hub. The pumps disconnect unresponsive clients.
			logger.Sugar.Warnf("Client %s's send buffer is full, dropping message.", client.ID)
		}
	}
}

// RoomSize reports the current member count for a note's room.
func (h *Hub) RoomSize(noteID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[noteID])
}
