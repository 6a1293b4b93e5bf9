package socket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to read messages from a WebSocket connection with a timeout.
func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	var msg Message
	// Set a deadline to avoid tests hanging forever.
	conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err, "Failed to read message from WebSocket")
	err = json.Unmarshal(p, &msg)
	require.NoError(t, err, "Failed to unmarshal Message JSON")
	return msg
}

// Helper asserting that nothing arrives within the window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err, "Expected no message, but one arrived")
}

func newTestServer(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialClient(t *testing.T, wsURL, clientID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?clientId="+clientID, nil)
	require.NoError(t, err, "Client failed to connect")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func presenceIDs(t *testing.T, msg Message) []string {
	t.Helper()
	require.Equal(t, PresenceType, msg.Type)
	var ids []string
	require.NoError(t, json.Unmarshal(msg.Payload, &ids))
	return ids
}

func TestJoinBroadcastsPresenceToEveryone(t *testing.T) {
	hub, wsURL := newTestServer(t)
	docID := "note-1"

	conn1 := dialClient(t, wsURL, "user1")
	sendMessage(t, conn1, Message{Type: JoinType, NoteID: docID})

	// The joiner itself receives the snapshot.
	assert.Equal(t, []string{"user1"}, presenceIDs(t, readMessage(t, conn1)))

	conn2 := dialClient(t, wsURL, "user2")
	sendMessage(t, conn2, Message{Type: JoinType, NoteID: docID})

	// Both the existing member and the new joiner see the full set.
	assert.Equal(t, []string{"user1", "user2"}, presenceIDs(t, readMessage(t, conn1)))
	assert.Equal(t, []string{"user1", "user2"}, presenceIDs(t, readMessage(t, conn2)))
	assert.Equal(t, 2, hub.RoomSize(docID))
}

func TestEditFanoutExcludesSender(t *testing.T) {
	_, wsURL := newTestServer(t)
	docID := "note-2"

	conn1 := dialClient(t, wsURL, "user1")
	sendMessage(t, conn1, Message{Type: JoinType, NoteID: docID})
	_ = readMessage(t, conn1) // own presence

	conn2 := dialClient(t, wsURL, "user2")
	sendMessage(t, conn2, Message{Type: JoinType, NoteID: docID})
	_ = readMessage(t, conn1)
	_ = readMessage(t, conn2)

	content := "Hello"
	rawDelta, _ := json.Marshal(EditDelta{Content: &content})
	sendMessage(t, conn2, Message{Type: EditType, NoteID: docID, Payload: rawDelta})

	// The other member receives the delta tagged as realtime...
	msg := readMessage(t, conn1)
	assert.Equal(t, EditType, msg.Type)
	assert.Equal(t, docID, msg.NoteID)
	assert.Equal(t, "user2", msg.ClientID)

	var delta EditDelta
	require.NoError(t, json.Unmarshal(msg.Payload, &delta))
	require.NotNil(t, delta.Content)
	assert.Equal(t, "Hello", *delta.Content)
	assert.Nil(t, delta.Title, "Unspecified fields must stay unspecified")
	assert.Equal(t, RealtimeSource, delta.Source)

	// ...and the sender never sees its own edit back.
	expectSilence(t, conn2)
}

func TestEditFromNonMemberIsRejected(t *testing.T) {
	_, wsURL := newTestServer(t)

	conn := dialClient(t, wsURL, "lurker")
	content := "sneaky"
	rawDelta, _ := json.Marshal(EditDelta{Content: &content})
	sendMessage(t, conn, Message{Type: EditType, NoteID: "note-3", Payload: rawDelta})

	msg := readMessage(t, conn)
	assert.Equal(t, ErrorType, msg.Type)

	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Contains(t, payload.Message, "not a member")
}

func TestEmptyDeltaIsRejected(t *testing.T) {
	_, wsURL := newTestServer(t)
	docID := "note-4"

	conn := dialClient(t, wsURL, "user1")
	sendMessage(t, conn, Message{Type: JoinType, NoteID: docID})
	_ = readMessage(t, conn)

	sendMessage(t, conn, Message{Type: EditType, NoteID: docID, Payload: json.RawMessage(`{}`)})

	msg := readMessage(t, conn)
	assert.Equal(t, ErrorType, msg.Type)
}

func TestMalformedPayloadIsRejectedWithoutDisconnect(t *testing.T) {
	_, wsURL := newTestServer(t)
	docID := "note-5"

	conn := dialClient(t, wsURL, "user1")
	sendMessage(t, conn, Message{Type: JoinType, NoteID: docID})
	_ = readMessage(t, conn)

	sendMessage(t, conn, Message{Type: EditType, NoteID: docID, Payload: json.RawMessage(`"not an object"`)})
	msg := readMessage(t, conn)
	assert.Equal(t, ErrorType, msg.Type)

	// Membership survives the rejection: a valid edit still works.
	content := "still here"
	rawDelta, _ := json.Marshal(EditDelta{Content: &content})
	sendMessage(t, conn, Message{Type: EditType, NoteID: docID, Payload: rawDelta})
	expectSilence(t, conn) // no error, and no echo either
}

func TestDisconnectUpdatesPresenceAndEmptiesRoom(t *testing.T) {
	hub, wsURL := newTestServer(t)
	docID := "note-6"

	conn1 := dialClient(t, wsURL, "user1")
	sendMessage(t, conn1, Message{Type: JoinType, NoteID: docID})
	_ = readMessage(t, conn1)

	conn2 := dialClient(t, wsURL, "user2")
	sendMessage(t, conn2, Message{Type: JoinType, NoteID: docID})
	_ = readMessage(t, conn1)
	_ = readMessage(t, conn2)

	conn2.Close()

	// Exactly one presence update, down to the single remaining member.
	assert.Equal(t, []string{"user1"}, presenceIDs(t, readMessage(t, conn1)))
	assert.Equal(t, 1, hub.RoomSize(docID))

	conn1.Close()
	assert.Eventually(t, func() bool { return hub.RoomSize(docID) == 0 },
		time.Second, 10*time.Millisecond, "Empty room should be removed")
}
