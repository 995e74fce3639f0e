// Package http serves the upload endpoints, the websocket upgrade, the
// finalized artifacts under /uploads, and a health probe.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/mediarelay/internal/logging"
	"github.com/dmitrijs2005/mediarelay/internal/server/artifacts"
	"github.com/dmitrijs2005/mediarelay/internal/server/auth"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
	"github.com/dmitrijs2005/mediarelay/internal/server/uploads"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

// Uploader runs an upload that has been written to disk.
type Uploader interface {
	HandleUpload(ctx context.Context, req uploads.Request) (*models.UploadResult, error)
}

// Limits caps request bodies per endpoint family.
type Limits struct {
	Attachment int64
	VoiceNote  int64
}

type HTTPServer struct {
	address  string
	router   *gin.Engine
	uploads  Uploader
	layout   *artifacts.Layout
	verifier auth.Verifier
	limits   Limits
	logger   logging.Logger
}

// NewHTTPServer builds the router. ws, when not nil, is mounted at /ws.
func NewHTTPServer(address string, l logging.Logger, up Uploader, layout *artifacts.Layout,
	verifier auth.Verifier, ws http.Handler, limits Limits) *HTTPServer {
	s := &HTTPServer{
		address:  address,
		router:   gin.New(),
		uploads:  up,
		layout:   layout,
		verifier: verifier,
		limits:   limits,
		logger:   l.With("module", "http_server"),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes(ws)
	return s
}

func (s *HTTPServer) registerRoutes(ws http.Handler) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if ws != nil {
		s.router.GET("/ws", gin.WrapH(ws))
	}

	s.router.Static(artifacts.URLPrefix, s.layout.Root())

	api := s.router.Group("/api/upload", s.requireAuth)
	{
		api.POST("/image", s.upload(models.KindImage, "file", s.limits.Attachment))
		api.POST("/file", s.upload(models.KindFile, "file", s.limits.Attachment))
		api.POST("/video", s.upload(models.KindVideo, "file", s.limits.Attachment))
		api.POST("/voice-note", s.upload(models.KindVoiceNote, "audio", s.limits.VoiceNote))
	}
}

func (s *HTTPServer) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "HTTP shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
