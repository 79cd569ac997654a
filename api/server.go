package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/benmessaoud/chatvault/services"
)

// Server represents the API handler
type Server struct {
	service services.Service
	router  *gin.Engine
	server  *http.Server
	log     zerolog.Logger
}

// NewServer creates a new API server
func NewServer(service services.Service, port string, log zerolog.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	return &Server{
		service: service,
		router:  router,
		log:     log.With().Str("component", "api").Logger(),
		server: &http.Server{
			Addr:    ":" + port,
			Handler: router,
		},
	}
}

// SendMessageRequest represents the request body for sending messages
type SendMessageRequest struct {
	PeerID  string `json:"peerId"`
	Message string `json:"message"`
}

// Response represents a generic API response
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/conversations", s.handleListConversations)
		api.GET("/messages/:peerID", s.handleGetMessages)
		api.GET("/profiles/:peerID", s.handleGetProfile)
		api.GET("/search", s.handleSearch)
		api.GET("/media/:name", s.handleMedia)
		api.POST("/send", s.handleSendMessage)
		api.GET("/status", s.handleStatus)
		api.GET("/qr", s.handleQR)
		api.GET("/login", s.handleLogin)
	}
}

func (s *Server) Start() error {
	s.registerRoutes(s.router)

	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
