package main

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// getUpgrader returns a WebSocket upgrader configured to allow all origins;
// cameras on the local network present no Origin header at all.
func getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// newHubRouter mounts the WebSocket endpoint cameras and viewers connect to.
// Both "/" and "/ws" upgrade, so embedded clients with a hardcoded root path
// and the dashboard both work.
func newHubRouter(h *hub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	upgrade := func(c *gin.Context) {
		upgrader := getUpgrader()
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		go h.handleConnection(conn)
	}
	r.GET("/", upgrade)
	r.GET("/ws", upgrade)
	return r
}

// newPageRouter serves the static viewer application. Opaque to the hub: one
// route in, no events back.
func newPageRouter(staticDir string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())

	r.GET("/", func(c *gin.Context) {
		c.File(filepath.Join(staticDir, "index.html"))
	})
	r.Static("/static", staticDir)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		})
	})
	return r
}

// corsMiddleware allows the dashboard to be opened from any origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
