package camera

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/core/processor"
)

type recordingScanner struct {
	mu    sync.Mutex
	calls map[string][][]byte
}

func (r *recordingScanner) ProcessImage(_ context.Context, camera string, raw []byte) (*processor.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string][][]byte{}
	}
	r.calls[camera] = append(r.calls[camera], raw)
	return &processor.Result{}, nil
}

func (r *recordingScanner) count(camera string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls[camera])
}

func snapshotServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/front.jpg", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("jpeg-bytes"))
	})
	mux.HandleFunc("/broken.jpg", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestScanFetchesSnapshot(t *testing.T) {
	srv := snapshotServer(t)
	scanner := &recordingScanner{}
	m := NewManager([]config.CameraConfig{
		{Name: "camera.front", SnapshotURL: srv.URL + "/front.jpg"},
		{Name: "camera.broken", SnapshotURL: srv.URL + "/broken.jpg"},
		{Name: "camera.upload"},
	}, NewSnapshotClient(time.Second), scanner)

	_, err := m.Scan(context.Background(), "camera.front")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("jpeg-bytes")}, scanner.calls["camera.front"])

	_, err = m.Scan(context.Background(), "camera.broken")
	assert.ErrorContains(t, err, "status code: 502")

	_, err = m.Scan(context.Background(), "camera.upload")
	assert.ErrorIs(t, err, ErrNoSnapshotURL)

	_, err = m.Scan(context.Background(), "camera.garage")
	assert.ErrorIs(t, err, ErrUnknownCamera)
}

func TestPollerScansOnInterval(t *testing.T) {
	srv := snapshotServer(t)
	scanner := &recordingScanner{}
	m := NewManager([]config.CameraConfig{
		{Name: "camera.front", SnapshotURL: srv.URL + "/front.jpg", IntervalSeconds: 1},
		{Name: "camera.manual", SnapshotURL: srv.URL + "/front.jpg"},
	}, NewSnapshotClient(time.Second), scanner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return scanner.count("camera.front") >= 1 }, 3*time.Second, 20*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, 0, scanner.count("camera.manual"))
}

func TestHandleMessageTriggersScan(t *testing.T) {
	srv := snapshotServer(t)
	scanner := &recordingScanner{}
	m := NewManager([]config.CameraConfig{{Name: "front", SnapshotURL: srv.URL + "/front.jpg"}}, NewSnapshotClient(time.Second), scanner)

	m.HandleMessage("afr/scan", []byte(`{"type":"new","camera":"front","after":{"label":"person"}}`))
	m.HandleMessage("afr/scan", []byte(`{"type":"new","camera":"front","after":{"label":"car"}}`))
	assert.Equal(t, 1, scanner.count("front"))
}

func TestParseTrigger(t *testing.T) {
	tests := []struct {
		payload string
		camera  string
		ok      bool
	}{
		{"camera.front", "camera.front", true},
		{"  camera.front \n", "camera.front", true},
		{`{"camera":"garage"}`, "garage", true},
		{`{"entity_id":"camera.door"}`, "camera.door", true},
		{`{"type":"update","camera":"front","after":{"label":"person"}}`, "front", true},
		{`{"type":"end","camera":"front","after":{"label":"person"}}`, "", false},
		{`{"camera":"front","after":{"label":"dog"}}`, "", false},
		{`{"camera":`, "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		camera, ok := ParseTrigger([]byte(tt.payload))
		assert.Equal(t, tt.ok, ok, tt.payload)
		assert.Equal(t, tt.camera, camera, tt.payload)
	}
}
