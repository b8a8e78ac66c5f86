package cmd

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/rudis/internal/meta"
	"github.com/luma/rudis/storage"
	"github.com/luma/rudis/transport"
)

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

func addAdminRoutes(r *gin.Engine, debugHTTP bool, tcp *transport.TCP, store storage.Store) {
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/health", func(c *gin.Context) {
		if _, err := store.Len(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": meta.VersionString()})
	})

	r.GET("/stats", func(c *gin.Context) {
		keys, err := store.Len(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"transport": tcp.Stats(),
			"keys":      keys,
		})
	})

	if !debugHTTP {
		return
	}

	r.GET("/debug/store", func(c *gin.Context) {
		data, err := store.Backup()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}

		c.Data(http.StatusOK, "application/json", data)
	})

	// Replaces everything in the store with a dump from GET /debug/store
	r.POST("/debug/store", func(c *gin.Context) {
		data, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := store.Restore(data); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.Status(http.StatusNoContent)
	})
}
