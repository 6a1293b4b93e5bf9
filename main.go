package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"notabersama/config/database"
	"notabersama/pkg/logger"
	"notabersama/router"
	"notabersama/socket"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables from OS")
	}

	logger.Init()
	defer logger.Log.Sync()

	db := database.Connect()
	defer db.Close()

	hub := socket.NewHub()
	go hub.Run()

	handler := router.Setup(db, hub)

	addr := strings.TrimSpace(os.Getenv("listen_addr"))
	if addr == "" {
		addr = ":8080"
	}

	logger.Sugar.Infof("notabersama listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Sugar.Fatalf("Server stopped: %v", err)
	}
}
