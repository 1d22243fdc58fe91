package web

import (
	"errors"
	"net/http"

	apperrors "qa-agent/errors"
	"qa-agent/rag"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type askRequest struct {
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
	DenseK    int    `json:"dense_k"`
	SparseK   int    `json:"sparse_k"`
	Classify  *bool  `json:"classify"`
}

func (s *Server) rootHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "qa-agent",
		"company": s.config.CompanyName,
		"endpoints": []string{
			"POST /ask", "GET /health", "GET /sessions",
			"GET /session/:id", "DELETE /session/:id",
		},
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	vectorDocs, sparseDocs := s.engine.Stats()
	status := "ok"
	code := http.StatusOK
	if !s.engine.Ready() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":          status,
		"vector_docs":     vectorDocs,
		"sparse_docs":     sparseDocs,
		"active_sessions": s.engine.Memory().ActiveSessions(),
	})
}

func (s *Server) askHandler(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}

	// Callers without a session get one; the id comes back in the result so
	// the follow-up question lands in the same dialogue.
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	classify := true
	if req.Classify != nil {
		classify = *req.Classify
	}

	result, err := s.engine.Ask(c.Request.Context(), rag.AskRequest{
		Question:  req.Question,
		SessionID: req.SessionID,
		DenseK:    req.DenseK,
		SparseK:   req.SparseK,
		Classify:  classify,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("Ask failed", zap.Error(err), zap.String("session_id", req.SessionID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) listSessionsHandler(c *gin.Context) {
	sessions := s.engine.Memory().List()
	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) sessionInfoHandler(c *gin.Context) {
	info := s.engine.Memory().Info(c.Param("id"))
	if !info.Exists {
		c.JSON(http.StatusNotFound, info)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) clearSessionHandler(c *gin.Context) {
	id := c.Param("id")
	if err := s.engine.Memory().Clear(id); err != nil {
		if apperrors.IsSessionNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found", "session_id": id})
			return
		}
		s.logger.Error("Failed to clear session", zap.Error(err), zap.String("session_id", id))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared", "session_id": id})
}
