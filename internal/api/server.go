package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/askdesk/askdesk/internal/config"
	"github.com/askdesk/askdesk/internal/registry"
	"github.com/askdesk/askdesk/internal/server"
)

type AskDeskApp struct {
	log            *log.Logger
	mux            *http.Server
	cs             *server.ChatServer
	registry       *registry.Registry
	allowedOrigins []string
}

func NewAskDeskApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, reg *registry.Registry, cfg *config.Config) *AskDeskApp {
	s := &AskDeskApp{
		log:            logger,
		cs:             cs,
		registry:       reg,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/rooms", s.createRoom)
	mux.HandleFunc("GET /api/rooms", s.listRooms)
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /ws", http.HandlerFunc(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *AskDeskApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *AskDeskApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
