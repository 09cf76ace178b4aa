package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"backend/actors"
)

// StatusHandler responds to liveness probes.
func StatusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "TeamHub messaging service running"})
}

// MetricsHandler reports live actor counts from the directory.
func MetricsHandler(directory *actors.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms, registries := directory.Stats()
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"metrics": gin.H{
				"activeRooms":      rooms,
				"activeRegistries": registries,
			},
		})
	}
}
