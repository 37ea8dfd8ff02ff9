package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/internal/api/middleware"
)

// RouterOptions beschreibt die statischen Teile des Routers
type RouterOptions struct {
	// SnapshotDir wird unter SnapshotURL ausgeliefert, falls beides gesetzt ist
	SnapshotDir string
	SnapshotURL string
	// Metrics wird unter /metrics eingehängt, falls gesetzt
	Metrics http.Handler
}

// NewRouter erstellt die gin-Engine mit allen Routen
func NewRouter(api *APIHandler, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(cors.New(cors.Config{
		AllowMethods:    []string{"GET", "POST", "DELETE", "HEAD"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Content-Length", middleware.RequestIDHeader},
		ExposeHeaders:   []string{middleware.RequestIDHeader},
		AllowAllOrigins: true,
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api.RegisterRoutes(router.Group("/api"))

	// Gespeicherte Bilder ausliefern
	if prefix := "/" + strings.Trim(opts.SnapshotURL, "/"); opts.SnapshotDir != "" && strings.HasPrefix(opts.SnapshotURL, "/") && prefix != "/" {
		router.Static(prefix, opts.SnapshotDir)
		log.Infof("Serving snapshots from %s under %s", opts.SnapshotDir, prefix)
	}
	return router
}
