// Package web serves the read-only status API behind the operator
// dashboard: campaign and route enrichment coverage. It never writes;
// all mutation goes through the CLI pipeline.
package web

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
)

// Server represents the status web server
type Server struct {
	db         *sql.DB
	httpServer *http.Server
	router     *mux.Router
}

// NewServer creates a status server over an open database handle.
func NewServer(db *sql.DB, host string, port int) *Server {
	server := &Server{db: db}
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      server.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	handler := &statusHandler{db: s.db}

	s.router.HandleFunc("/healthz", handler.Health).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", handler.GetStats).Methods("GET")
	api.HandleFunc("/campaigns/{id}/routes", handler.ListCampaignRoutes).Methods("GET")
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully.
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		fmt.Printf("Status server on http://%s\n", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Server error: %v\n", err)
		}
	}()

	<-stop
	fmt.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		fmt.Printf("Server shutdown error: %v\n", err)
	}

	fmt.Println("Server stopped")
	return nil
}
