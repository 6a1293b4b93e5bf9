package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"notabersama/internal/note/model"
)

var (
	// ErrNotFound means the note id is unknown to the store. Terminal for an
	// editing session; never conflated with a transport failure.
	ErrNotFound = errors.New("note not found")
	// ErrUnreachable covers network failures and unexpected store responses.
	ErrUnreachable = errors.New("persistence store unreachable")
	// ErrEmptyTitle is returned before any network call is made.
	ErrEmptyTitle = errors.New("title cannot be empty")
)

// API is the REST client of the persistence store. The base address comes
// from deployment configuration, never from a constant.
type API struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewAPI(baseURL string) *API {
	return &API{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *API) ListNotes(ctx context.Context) ([]model.NoteSummary, error) {
	var notes []model.NoteSummary
	if err := a.do(ctx, http.MethodGet, "/api/notes", nil, http.StatusOK, &notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// CreateNote rejects an empty or whitespace-only title locally, before any
// request goes out.
func (a *API) CreateNote(ctx context.Context, title string) (*model.Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, ErrEmptyTitle
	}

	var note model.Note
	req := model.CreateNoteRequest{Title: title}
	if err := a.do(ctx, http.MethodPost, "/api/notes", req, http.StatusCreated, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (a *API) GetNote(ctx context.Context, id string) (*model.Note, error) {
	var note model.Note
	if err := a.do(ctx, http.MethodGet, "/api/notes/"+id, nil, http.StatusOK, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// UpdateNote writes the whole record; the store's copy is overwritten
// unconditionally. clientID, if set, keeps the hub from echoing the update
// back to the saving editor.
func (a *API) UpdateNote(ctx context.Context, id, title, content, clientID string) (*model.Note, error) {
	var note model.Note
	req := model.UpdateNoteRequest{Title: title, Content: content, ClientID: clientID}
	if err := a.do(ctx, http.MethodPut, "/api/notes/"+id, req, http.StatusOK, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (a *API) do(ctx context.Context, method, path string, body interface{}, wantStatus int, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = &bytes.Buffer{}
	}

	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == wantStatus:
		return json.NewDecoder(resp.Body).Decode(out)
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrUnreachable, resp.StatusCode)
	}
}
