package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"notabersama/internal/note/model"
	"notabersama/pkg/logger"
	"notabersama/socket"
)

// DefaultSaveDelay is the quiet period after the last local edit before the
// durable write fires.
const DefaultSaveDelay = 2000 * time.Millisecond

type State int

const (
	StateLoading State = iota
	StateReady
	StateError
)

// Agent keeps one open editor in sync: optimistic local edits, realtime
// deltas over the shared connection, and a trailing-debounce durable save.
//
// Edits, timer expiry and incoming messages all serialize on a.mu, so the
// local view is never raced.
type Agent struct {
	api    *API
	conn   *Conn
	noteID string

	saveDelay time.Duration

	// ctx is cancelled on Close so an already-fired debounce timer cannot
	// complete a durable write after teardown.
	ctx    context.Context
	cancel context.CancelFunc

	mu                   sync.Mutex
	state                State
	err                  error
	note                 model.Note
	lastPersistedTitle   string
	lastPersistedContent string
	lastSavedAt          time.Time
	participants         []string
	saveTimer            *time.Timer
	subs                 []*Subscription
	closed               bool

	closeOnce sync.Once
}

func NewAgent(api *API, conn *Conn, noteID string) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	return &Agent{
		api:       api,
		conn:      conn,
		noteID:    noteID,
		state:     StateLoading,
		saveDelay: DefaultSaveDelay,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Open fetches the note, seeds the local view and joins the note's room.
// A 404 leaves the agent in a terminal error state distinguishable from a
// transport failure via Err().
func (a *Agent) Open(ctx context.Context) error {
	note, err := a.api.GetNote(ctx, a.noteID)
	if err != nil {
		a.mu.Lock()
		a.state = StateError
		a.err = err
		a.mu.Unlock()
		return err
	}

	a.mu.Lock()
	a.note = *note
	a.lastPersistedTitle = note.Title
	a.lastPersistedContent = note.Content
	a.lastSavedAt = note.UpdatedAt
	a.state = StateReady
	a.subs = []*Subscription{
		a.conn.Subscribe(socket.EditType, a.onRemoteEdit),
		a.conn.Subscribe(socket.PresenceType, a.onPresence),
		a.conn.Subscribe(socket.ErrorType, a.onWireError),
	}
	a.mu.Unlock()

	if err := a.conn.Send(socket.Message{Type: socket.JoinType, NoteID: a.noteID}); err != nil {
		// Editing still works without the realtime channel; saves go
		// through the store directly.
		logger.Sugar.Warnf("Failed to join room %s: %v", a.noteID, err)
	}
	return nil
}

// SetTitle applies a local title edit: optimistic update, realtime delta,
// restarted save timer.
func (a *Agent) SetTitle(v string) {
	a.localEdit(socket.EditDelta{Title: &v}, func(n *model.Note) { n.Title = v })
}

// SetContent applies a local content edit.
func (a *Agent) SetContent(v string) {
	a.localEdit(socket.EditDelta{Content: &v}, func(n *model.Note) { n.Content = v })
}

func (a *Agent) localEdit(delta socket.EditDelta, apply func(*model.Note)) {
	a.mu.Lock()
	if a.state != StateReady || a.closed {
		a.mu.Unlock()
		return
	}
	apply(&a.note)

	// Trailing-edge debounce: every edit replaces the pending timer, so only
	// the state at quiescence is persisted.
	if a.saveTimer != nil {
		a.saveTimer.Stop()
	}
	a.saveTimer = time.AfterFunc(a.saveDelay, a.flush)
	a.mu.Unlock()

	rawDelta, _ := json.Marshal(delta)
	if err := a.conn.Send(socket.Message{Type: socket.EditType, NoteID: a.noteID, Payload: rawDelta}); err != nil {
		logger.Sugar.Warnf("Failed to send realtime delta for %s: %v", a.noteID, err)
	}
}

// flush runs on debounce expiry. It writes the full record, not a delta, and
// only when something diverged from the last persisted state. On failure the
// baseline stays stale, so the next edit's cycle retries the same changes.
func (a *Agent) flush() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	title, content := a.note.Title, a.note.Content
	dirty := title != a.lastPersistedTitle || content != a.lastPersistedContent
	a.mu.Unlock()

	if !dirty {
		return
	}

	updated, err := a.api.UpdateNote(a.ctx, a.noteID, title, content, a.conn.ClientID())
	if err != nil {
		logger.Sugar.Warnf("Autosave of %s failed: %v", a.noteID, err)
		return
	}

	a.mu.Lock()
	// Teardown may have raced the write; a closed agent keeps no bookkeeping.
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.lastPersistedTitle = title
	a.lastPersistedContent = content
	a.lastSavedAt = updated.UpdatedAt
	a.note.UpdatedAt = updated.UpdatedAt
	a.mu.Unlock()
}

func (a *Agent) onRemoteEdit(msg socket.Message) {
	if msg.NoteID != a.noteID {
		return
	}
	var delta socket.EditDelta
	if err := json.Unmarshal(msg.Payload, &delta); err != nil {
		return
	}
	if delta.Source != socket.RealtimeSource {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	// Merge only what the delta carries; absent fields stay untouched.
	if delta.Title != nil {
		a.note.Title = *delta.Title
	}
	if delta.Content != nil {
		a.note.Content = *delta.Content
	}
	if delta.UpdatedAt != nil {
		a.note.UpdatedAt = *delta.UpdatedAt
		a.lastSavedAt = *delta.UpdatedAt
	}
}

func (a *Agent) onPresence(msg socket.Message) {
	if msg.NoteID != a.noteID {
		return
	}
	var ids []string
	if err := json.Unmarshal(msg.Payload, &ids); err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	// Snapshots replace the set wholesale, never merge.
	a.participants = ids
}

func (a *Agent) onWireError(msg socket.Message) {
	var payload socket.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return
	}
	logger.Sugar.Warnf("Hub rejected a message from %s: %s", a.conn.ClientID(), payload.Message)
}

// Close tears the agent down: the pending save timer is cancelled so no
// stale write fires later, and every subscription is released exactly once.
// The shared connection stays open for other agents.
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		a.cancel()
		a.mu.Lock()
		a.closed = true
		if a.saveTimer != nil {
			a.saveTimer.Stop()
			a.saveTimer = nil
		}
		subs := a.subs
		a.subs = nil
		a.mu.Unlock()

		for _, sub := range subs {
			sub.Cancel()
		}
	})
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err reports why the agent failed to open. ErrNotFound is terminal for this
// note id; anything else wraps ErrUnreachable.
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Note returns a copy of the working view.
func (a *Agent) Note() model.Note {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.note
}

func (a *Agent) Participants() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, len(a.participants))
	copy(ids, a.participants)
	return ids
}

func (a *Agent) LastSavedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSavedAt
}

// NotFound reports whether the open failed because the note does not exist.
func (a *Agent) NotFound() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return errors.Is(a.err, ErrNotFound)
}
