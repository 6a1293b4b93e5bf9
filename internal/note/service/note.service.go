package service

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"notabersama/internal/note/model"
	"notabersama/internal/note/repository"
	"notabersama/socket"
)

const MaxTitleLen = 100

var (
	ErrNotFound     = errors.New("note not found")
	ErrEmptyTitle   = errors.New("title cannot be empty")
	ErrTitleTooLong = errors.New("title is too long")
)

type NoteService struct {
	Repo *repository.NoteRepository
	Hub  *socket.Hub
}

func NewNoteService(repo *repository.NoteRepository, hub *socket.Hub) *NoteService {
	return &NoteService{Repo: repo, Hub: hub}
}

func (s *NoteService) ListNotes() ([]model.NoteSummary, error) {
	return s.Repo.List()
}

func (s *NoteService) CreateNote(title string) (*model.Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}
	// The limit is characters, not bytes; multibyte titles count per rune.
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return nil, ErrTitleTooLong
	}
	return s.Repo.Create(uuid.NewString(), title)
}

func (s *NoteService) GetNote(id string) (*model.Note, error) {
	note, err := s.Repo.Get(id)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return note, err
}

// UpdateNote persists the full record, then lets the room know the durable
// state moved. The saving client, identified by senderID, is not echoed to.
func (s *NoteService) UpdateNote(id, title, content, senderID string) (*model.Note, error) {
	// Validate exactly what gets stored: the title as sent, counted in runes.
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return nil, ErrTitleTooLong
	}

	note, err := s.Repo.Update(id, title, content)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	delta := socket.EditDelta{
		Title:     &note.Title,
		Content:   &note.Content,
		UpdatedAt: &note.UpdatedAt,
		Source:    socket.RealtimeSource,
	}
	rawDelta, _ := json.Marshal(delta)
	s.Hub.Broadcast <- socket.Message{
		Type:     socket.EditType,
		NoteID:   id,
		ClientID: senderID,
		Payload:  rawDelta,
	}
	return note, nil
}
