package router

import (
	"database/sql"
	"net/http"

	noteHandler "notabersama/internal/note"
	"notabersama/internal/note/repository"
	"notabersama/internal/note/service"
	"notabersama/middleware"
	"notabersama/socket"
)

func Setup(db *sql.DB, hub *socket.Hub) http.Handler {
	mux := http.NewServeMux()

	// WebSocket
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		socket.ServeWs(hub, w, r)
	})

	// REST API
	noteRepo := repository.NewNoteRepository(db)
	noteService := service.NewNoteService(noteRepo, hub)
	noteHandler := noteHandler.NewNoteHandler(noteService)

	mux.HandleFunc("GET /api/notes", noteHandler.ListNotes)
	mux.HandleFunc("POST /api/notes", noteHandler.CreateNote)
	mux.HandleFunc("GET /api/notes/{id}", noteHandler.GetNote)
	mux.HandleFunc("PUT /api/notes/{id}", noteHandler.UpdateNote)

	return middleware.CORSMiddleware(mux)
}
