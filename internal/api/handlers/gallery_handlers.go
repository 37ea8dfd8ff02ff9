package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/internal/integrations/rekognition"
	"aws-face-recognition-go/internal/services/gallery"
)

// galleryTimeout begrenzt Änderungen an der Collection inklusive Abgleich
const galleryTimeout = 2 * time.Minute

// EnrollFace lernt ein hochgeladenes Bild unter einem Namen an
func (h *APIHandler) EnrollFace(c *gin.Context) {
	raw, err := readUpload(c, "file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image provided"})
		return
	}
	// Der Name kommt aus dem Formular oder, bei rohem Body, aus der Query
	name := c.PostForm("name")
	if name == "" {
		name = c.Query("name")
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), galleryTimeout)
	defer cancel()
	faceID, person, err := h.deps.Gallery.Enroll(ctx, raw, name)
	if err != nil {
		log.WithError(err).Warnf("Failed to enroll %q", name)
		c.JSON(galleryStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"face_id": faceID, "name": person})
}

// RefreshFaces gleicht die Galerie mit der Collection ab
func (h *APIHandler) RefreshFaces(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), galleryTimeout)
	defer cancel()
	faces, err := h.deps.Gallery.Refresh(ctx)
	if err != nil {
		c.JSON(galleryStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, faces)
}

// DeleteFace löscht ein einzelnes Gesicht
func (h *APIHandler) DeleteFace(c *gin.Context) {
	h.deleteFaces(c, func(ctx context.Context) (int, error) {
		return h.deps.Gallery.DeleteByID(ctx, c.Param("face_id"))
	})
}

// DeletePerson löscht alle Gesichter einer Person
func (h *APIHandler) DeletePerson(c *gin.Context) {
	h.deleteFaces(c, func(ctx context.Context) (int, error) {
		return h.deps.Gallery.DeleteByName(ctx, c.Param("name"))
	})
}

// DeleteAllFaces leert die Collection; erfordert confirm=true
func (h *APIHandler) DeleteAllFaces(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "confirm=true required"})
		return
	}
	h.deleteFaces(c, h.deps.Gallery.DeleteAll)
}

func (h *APIHandler) deleteFaces(c *gin.Context, del func(ctx context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), galleryTimeout)
	defer cancel()
	deleted, err := del(ctx)
	if err != nil {
		c.JSON(galleryStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func galleryStatus(err error) int {
	switch {
	case errors.Is(err, gallery.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, gallery.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, rekognition.ErrNoCollection):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
