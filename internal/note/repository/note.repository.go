package repository

import (
	"database/sql"

	"notabersama/internal/note/model"
	"notabersama/pkg/logger"
)

type NoteRepository struct {
	DB *sql.DB
}

func NewNoteRepository(db *sql.DB) *NoteRepository {
	return &NoteRepository{DB: db}
}

func (r *NoteRepository) List() ([]model.NoteSummary, error) {
	rows, err := r.DB.Query(`SELECT id, title, updated_at FROM notes ORDER BY updated_at DESC`)
	if err != nil {
		logger.Sugar.Errorf("Failed to list notes: %v", err)
		return nil, err
	}
	defer rows.Close()

	notes := []model.NoteSummary{}
	for rows.Next() {
		var n model.NoteSummary
		if err := rows.Scan(&n.ID, &n.Title, &n.UpdatedAt); err != nil {
			continue
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func (r *NoteRepository) Create(id, title string) (*model.Note, error) {
	note := &model.Note{ID: id, Title: title, Content: ""}
	err := r.DB.QueryRow(`INSERT INTO notes (id, title, content, created_at, updated_at) VALUES ($1, $2, '', NOW(), NOW())
		RETURNING created_at, updated_at`, id, title).Scan(&note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create note: %v", err)
		return nil, err
	}
	return note, nil
}

func (r *NoteRepository) Get(id string) (*model.Note, error) {
	note := &model.Note{ID: id}
	err := r.DB.QueryRow(`SELECT title, content, created_at, updated_at FROM notes WHERE id = $1`, id).
		Scan(&note.Title, &note.Content, &note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Sugar.Errorf("Failed to get note %s: %v", id, err)
		}
		return nil, err
	}
	return note, nil
}

// Update overwrites title and content unconditionally. Last write wins; there
// is no version check.
func (r *NoteRepository) Update(id, title, content string) (*model.Note, error) {
	note := &model.Note{ID: id, Title: title, Content: content}
	err := r.DB.QueryRow(`UPDATE notes SET title = $1, content = $2, updated_at = NOW() WHERE id = $3
		RETURNING created_at, updated_at`, title, content, id).Scan(&note.CreatedAt, &note.UpdatedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Sugar.Errorf("Failed to update note %s: %v", id, err)
		}
		return nil, err
	}
	return note, nil
}
