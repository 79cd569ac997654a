package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/benmessaoud/chatvault/store"
)

// Internal error detail never reaches the caller; it is logged here and the
// response carries a generic message only.
func (s *Server) serverError(c *gin.Context, msg string, err error) {
	s.log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Message: msg,
	})
}

func (s *Server) handleListConversations(c *gin.Context) {
	convs, err := s.service.ListConversations(c.Request.Context())
	if err != nil {
		s.serverError(c, "Failed to fetch conversations", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    convs,
	})
}

func (s *Server) handleGetMessages(c *gin.Context) {
	peerID := c.Param("peerID")

	conv, err := s.service.GetConversation(c.Request.Context(), peerID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Message: "Conversation not found",
		})
		return
	}
	if errors.Is(err, store.ErrBadName) {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Message: "Invalid peer id",
		})
		return
	}
	if err != nil {
		s.serverError(c, "Failed to fetch messages", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"peerId":   conv.PeerID,
			"profile":  conv.Profile,
			"messages": conv.Messages,
		},
	})
}

func (s *Server) handleGetProfile(c *gin.Context) {
	peerID := c.Param("peerID")

	profile, err := s.service.GetProfile(c.Request.Context(), peerID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Message: "Conversation not found",
		})
		return
	}
	if errors.Is(err, store.ErrBadName) {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Message: "Invalid peer id",
		})
		return
	}
	if err != nil {
		s.serverError(c, "Failed to fetch profile", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"peerId":  peerID,
			"profile": profile,
		},
	})
}

func (s *Server) handleSearch(c *gin.Context) {
	query := c.Query("query")
	if query == "" {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Message: "Search query is required",
		})
		return
	}

	results, err := s.service.Search(c.Request.Context(), query)
	if err != nil {
		s.serverError(c, "Failed to search conversations", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    results,
	})
}

func (s *Server) handleMedia(c *gin.Context) {
	name := c.Param("name")

	path, err := s.service.MediaFile(c.Request.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, Response{
			Success: false,
			Message: "Media not found",
		})
		return
	}
	if errors.Is(err, store.ErrBadName) {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Message: "Invalid file name",
		})
		return
	}
	if err != nil {
		s.serverError(c, "Failed to serve media", err)
		return
	}

	c.File(path)
}

func (s *Server) handleSendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Message: "Invalid request body",
		})
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.PeerID == "" || req.Message == "" {
		c.JSON(http.StatusBadRequest, Response{
			Success: false,
			Message: "peerId and message are required",
		})
		return
	}

	id, err := s.service.Send(c.Request.Context(), req.PeerID, req.Message)
	if err != nil {
		s.serverError(c, "Failed to send message", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    gin.H{"messageId": id},
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.service.Status(c.Request.Context())
	if err != nil {
		s.serverError(c, "Failed to get status", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    status,
	})
}

func (s *Server) handleQR(c *gin.Context) {
	qrCode, err := s.service.QRImage(c.Request.Context())
	if err != nil {
		s.serverError(c, "Failed to get QR code", err)
		return
	}

	// Empty bytes mean there is nothing to pair right now.
	if qrCode == nil {
		c.JSON(http.StatusOK, Response{
			Success: true,
			Message: "No pairing code pending",
		})
		return
	}

	c.Data(http.StatusOK, "image/png", qrCode)
}

func (s *Server) handleLogin(c *gin.Context) {
	if err := s.service.Login(c.Request.Context()); err != nil {
		s.serverError(c, "Failed to login", err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Message: "Login successful",
	})
}
