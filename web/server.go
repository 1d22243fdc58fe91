package web

import (
	"context"
	"fmt"
	"net/http"

	"qa-agent/config"
	"qa-agent/rag"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	engine *rag.Engine
	logger *zap.Logger
	config *config.Config
}

func NewServer(engine *rag.Engine, logger *zap.Logger, config *config.Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	server := &Server{
		router: router,
		engine: engine,
		logger: logger,
		config: config,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.rootHandler)
	s.router.GET("/health", s.healthHandler)
	s.router.POST("/ask", s.askHandler)
	s.router.GET("/sessions", s.listSessionsHandler)
	s.router.GET("/session/:id", s.sessionInfoHandler)
	s.router.DELETE("/session/:id", s.clearSessionHandler)
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.WebPort)
	s.logger.Info("Starting web server", zap.String("address", addr))

	srv := &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down web server")
	return srv.Shutdown(context.Background())
}
