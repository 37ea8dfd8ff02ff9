package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RequestIDHeader trägt die ID einer Anfrage
const RequestIDHeader = "X-Request-ID"

// requestIDKey ist der Schlüssel im gin.Context
const requestIDKey = "request_id"

// RequestID übernimmt eine vorhandene Request-ID oder erzeugt eine neue
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID liefert die Request-ID aus dem Kontext
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Logger protokolliert jede Anfrage über logrus
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(log.Fields{
			"request_id": GetRequestID(c),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Warn("Request failed")
		default:
			entry.Debug("Request handled")
		}
	}
}

// RateLimit lehnt Anfragen ab, sobald limiter keine Token mehr hat. Ein nil-Limiter lässt alles durch.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many scan requests"})
			return
		}
		c.Next()
	}
}
