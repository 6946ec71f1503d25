// Package api exposes the command surface over HTTP for the browser
// extension and local automation.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/JohanCodinha/aurora/internal/app"
	"github.com/JohanCodinha/aurora/internal/config"
	"github.com/JohanCodinha/aurora/internal/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var log = logger.Named("api")

// NewRouter builds the gin engine serving a.
func NewRouter(a *app.App) *gin.Engine {
	h := &Handler{app: a}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	origins := a.Settings.AllowedOrigins
	if len(origins) == 0 {
		origins = config.DefaultAllowedOrigins
	}
	r.Use(cors.New(cors.Config{
		AllowOrigins:           origins,
		AllowWildcard:          true,
		AllowBrowserExtensions: true,
		AllowMethods:           []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:           []string{"Content-Type", "Accept"},
		MaxAge:                 12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		v1.POST("/posts", h.SubmitPost)
		v1.GET("/status", h.Status)
		v1.GET("/stats", h.Stats)
		v1.GET("/recent", h.Recent)
		v1.GET("/queue", h.Queue)
		v1.POST("/queue/process", h.ProcessQueue)
		v1.PUT("/credential", h.SetCredential)
		v1.GET("/connection", h.CheckConnection)
		v1.GET("/teams", h.Teams)
		v1.GET("/team", h.Team)
		v1.PUT("/team", h.SetTeam)
		v1.GET("/config", h.Config)
		v1.PATCH("/config", h.UpdateConfig)
		v1.DELETE("/history", h.ClearHistory)
		v1.GET("/preview", h.Preview)
		v1.POST("/preview/confirm-all", h.ConfirmAllPreview)
		v1.POST("/preview/skip-all", h.SkipAllPreview)
		v1.POST("/preview/:id/confirm", h.ConfirmPreview)
		v1.POST("/preview/:id/skip", h.SkipPreview)
		v1.POST("/historical", h.CheckHistorical)
		v1.GET("/debug", h.Debug)
		v1.GET("/events", h.Events)
	}
	return r
}

// RequestLogger logs one line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Microsecond))
	}
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server stopped")
	return nil
}
