package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aws-face-recognition-go/internal/server/sse"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestFrameAndCallCounters(t *testing.T) {
	m := New(func() int { return 3 })

	m.ObserveFrame("camera.front", 200*time.Millisecond, nil)
	m.ObserveFrame("camera.front", time.Second, errors.New("decode"))
	m.ObserveCall("detect_labels", nil)
	m.ObserveCall("index_faces", nil)

	body := scrape(t, m)
	assert.Contains(t, body, `afr_frames_total{camera="camera.front",outcome="ok"} 1`)
	assert.Contains(t, body, `afr_frames_total{camera="camera.front",outcome="error"} 1`)
	assert.Contains(t, body, `afr_frame_duration_seconds_count{camera="camera.front"} 2`)
	assert.Contains(t, body, `afr_aws_calls_total{op="detect_labels",result="ok"} 1`)
	assert.Contains(t, body, `afr_aws_calls_total{op="index_faces",result="ok"} 1`)
	assert.Contains(t, body, "afr_event_subscribers 3")
}

func TestConsumeCountsEvents(t *testing.T) {
	m := New(nil)
	events := make(sse.Client, 4)
	events <- sse.Event{Type: sse.EventRecognitionUpdated}
	events <- sse.Event{Type: sse.EventRecognitionUpdated}
	events <- sse.Event{Type: sse.EventFacesUpdated}
	close(events)

	m.Consume(context.Background(), events)
	body := scrape(t, m)
	assert.Contains(t, body, `afr_events_published_total{type="aws_face_recognition_updated"} 2`)
	assert.Contains(t, body, `afr_events_published_total{type="aws_face_recognition_faces_updated"} 1`)
	assert.NotContains(t, body, "afr_event_subscribers")
}
