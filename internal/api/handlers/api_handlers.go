package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/api/middleware"
	"aws-face-recognition-go/internal/core/models"
	"aws-face-recognition-go/internal/core/processor"
	"aws-face-recognition-go/internal/core/state"
	"aws-face-recognition-go/internal/integrations/camera"
	"aws-face-recognition-go/internal/integrations/rekognition"
	"aws-face-recognition-go/internal/server/sse"
	"aws-face-recognition-go/internal/services/usage"
	"aws-face-recognition-go/internal/utils"
)

// maxUploadBytes begrenzt hochgeladene Bilder
const maxUploadBytes = 20 << 20

// StateReader liefert den veröffentlichten Zustand
type StateReader interface {
	LastResult(ctx context.Context) (models.LastResult, error)
	Index(ctx context.Context, limit int) (models.RecognitionIndex, error)
	FacesIndex(ctx context.Context) (models.FacesIndex, error)
	Usage(ctx context.Context) (models.UsageCounters, error)
}

// EventSource liefert Abonnements auf Zustandsereignisse
type EventSource interface {
	Subscribe(buffer int) (sse.Client, func())
}

// FrameScanner verarbeitet ein übergebenes Bild
type FrameScanner interface {
	ProcessImage(ctx context.Context, camera string, raw []byte) (*processor.Result, error)
}

// CameraScanner holt und verarbeitet den Snapshot einer konfigurierten Kamera
type CameraScanner interface {
	Cameras() []config.CameraConfig
	Scan(ctx context.Context, name string) (*processor.Result, error)
}

// GalleryManager verwaltet die Gesichter der Collection
type GalleryManager interface {
	Refresh(ctx context.Context) (models.FacesIndex, error)
	Enroll(ctx context.Context, img []byte, name string) (string, string, error)
	DeleteByID(ctx context.Context, faceID string) (int, error)
	DeleteByName(ctx context.Context, name string) (int, error)
	DeleteAll(ctx context.Context) (int, error)
}

// SelfTester prüft die AWS-Konfiguration
type SelfTester interface {
	Run(ctx context.Context) rekognition.SelfTestResult
}

// Dependencies bündelt die Dienste, die der API-Handler benötigt
type Dependencies struct {
	State    StateReader
	Events   EventSource
	Frames   FrameScanner
	Cameras  CameraScanner
	Gallery  GalleryManager
	SelfTest SelfTester
	Pool     utils.PoolStats
	// SnapshotDir ist der Speicherordner für die Statusanzeige
	SnapshotDir string
	// APICost liefert die aktuellen Kosten pro API-Aufruf
	APICost func() float64
	// ScanLimit begrenzt manuelle Scans; nil bedeutet unbegrenzt
	ScanLimit gin.HandlerFunc
}

// APIHandler behandelt API-Anfragen für das System
type APIHandler struct {
	deps      Dependencies
	started   time.Time
	upgrader  websocket.Upgrader
	closing   chan struct{}
	closeOnce sync.Once
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(deps Dependencies) *APIHandler {
	if deps.APICost == nil {
		deps.APICost = func() float64 { return 0 }
	}
	return &APIHandler{
		deps:    deps,
		started: time.Now(),
		closing: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// CloseStreams beendet offene SSE-Verbindungen, etwa beim Herunterfahren des Servers
func (h *APIHandler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Zustand
	router.GET("/last_result", h.GetLastResult)
	router.GET("/index", h.GetIndex)
	router.GET("/faces", h.GetFaces)
	router.GET("/usage", h.GetUsage)
	router.GET("/status", h.GetStatus)
	router.GET("/cameras", h.ListCameras)

	// Verarbeitung
	scan := []gin.HandlerFunc{h.Scan}
	if h.deps.ScanLimit != nil {
		scan = append([]gin.HandlerFunc{h.deps.ScanLimit}, scan...)
	}
	router.POST("/scan/:camera", scan...)
	router.POST("/selftest", h.RunSelfTest)

	// Galerie
	router.POST("/faces", h.EnrollFace)
	router.POST("/faces/refresh", h.RefreshFaces)
	router.DELETE("/faces", h.DeleteAllFaces)
	router.DELETE("/faces/id/:face_id", h.DeleteFace)
	router.DELETE("/faces/person/:name", h.DeletePerson)

	// Ereignisse
	router.GET("/events", h.StreamEvents)
	router.GET("/ws", h.Websocket)
}

// GetLastResult liefert das letzte Erkennungsergebnis
func (h *APIHandler) GetLastResult(c *gin.Context) {
	last, err := h.deps.State.LastResult(c.Request.Context())
	if err != nil {
		stateUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, last)
}

// GetIndex liefert die neuesten Indexeinträge
func (h *APIHandler) GetIndex(c *gin.Context) {
	limit := state.DefaultIndexLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	idx, err := h.deps.State.Index(c.Request.Context(), limit)
	if err != nil {
		stateUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, idx)
}

// GetFaces liefert die Galerie-Zusammenfassung
func (h *APIHandler) GetFaces(c *gin.Context) {
	faces, err := h.deps.State.FacesIndex(c.Request.Context())
	if err != nil {
		stateUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, faces)
}

// GetUsage liefert die Nutzungszähler samt Kostenbericht
func (h *APIHandler) GetUsage(c *gin.Context) {
	counters, err := h.deps.State.Usage(c.Request.Context())
	if err != nil {
		stateUnavailable(c, err)
		return
	}
	c.JSON(http.StatusOK, usage.Report(counters, h.deps.APICost()))
}

// GetStatus liefert System- und Laufzeitinformationen
func (h *APIHandler) GetStatus(c *gin.Context) {
	counters, err := h.deps.State.Usage(c.Request.Context())
	if err != nil {
		stateUnavailable(c, err)
		return
	}
	stats := utils.GetSystemStats(h.deps.Pool, h.deps.SnapshotDir)
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"system":         stats,
		"usage":          usage.Report(counters, h.deps.APICost()),
		"cameras":        h.cameraNames(),
	})
}

// ListCameras liefert die konfigurierten Kameras
func (h *APIHandler) ListCameras(c *gin.Context) {
	if h.deps.Cameras == nil {
		c.JSON(http.StatusOK, []config.CameraConfig{})
		return
	}
	c.JSON(http.StatusOK, h.deps.Cameras.Cameras())
}

func (h *APIHandler) cameraNames() []string {
	names := []string{}
	if h.deps.Cameras == nil {
		return names
	}
	for _, cam := range h.deps.Cameras.Cameras() {
		names = append(names, cam.Name)
	}
	return names
}

// Scan verarbeitet ein hochgeladenes Bild oder den Snapshot der Kamera
func (h *APIHandler) Scan(c *gin.Context) {
	cameraName := strings.TrimSpace(c.Param("camera"))
	logger := log.WithFields(log.Fields{"camera": cameraName, "request_id": middleware.GetRequestID(c)})

	raw, err := readUpload(c, "file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var res *processor.Result
	switch {
	case len(raw) > 0:
		logger.Debugf("Scanning uploaded image (%d bytes)", len(raw))
		res, err = h.deps.Frames.ProcessImage(c.Request.Context(), cameraName, raw)
	case h.deps.Cameras != nil:
		res, err = h.deps.Cameras.Scan(c.Request.Context(), cameraName)
	default:
		err = camera.ErrUnknownCamera
	}
	if err != nil {
		logger.WithError(err).Warn("Scan failed")
		c.JSON(scanStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"last_result":   res.LastResult,
		"index_updated": res.Index != nil,
	})
}

func scanStatus(err error) int {
	switch {
	case errors.Is(err, processor.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, camera.ErrUnknownCamera):
		return http.StatusNotFound
	case errors.Is(err, camera.ErrNoSnapshotURL):
		return http.StatusBadRequest
	case errors.Is(err, processor.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// RunSelfTest prüft Zugangsdaten, Collection und Bucket
func (h *APIHandler) RunSelfTest(c *gin.Context) {
	if h.deps.SelfTest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "self-test not available"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Minute)
	defer cancel()
	c.JSON(http.StatusOK, h.deps.SelfTest.Run(ctx))
}

// readUpload liest ein Bild aus einem Multipart-Feld oder dem rohen Body
func readUpload(c *gin.Context, field string) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		header, err := c.FormFile(field)
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return nil, nil
			}
			return nil, err
		}
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return io.ReadAll(c.Request.Body)
}

func stateUnavailable(c *gin.Context, err error) {
	log.WithError(err).Warn("State not available")
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state not available"})
}
