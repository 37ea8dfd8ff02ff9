package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"aws-face-recognition-go/config"
	"aws-face-recognition-go/internal/api/middleware"
	"aws-face-recognition-go/internal/core/models"
	"aws-face-recognition-go/internal/core/processor"
	"aws-face-recognition-go/internal/core/state"
	"aws-face-recognition-go/internal/integrations/camera"
	"aws-face-recognition-go/internal/integrations/rekognition"
	"aws-face-recognition-go/internal/server/sse"
	"aws-face-recognition-go/internal/services/gallery"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fakeFrames struct {
	mu     sync.Mutex
	camera string
	raw    []byte
	err    error
}

func (f *fakeFrames) ProcessImage(_ context.Context, camera string, raw []byte) (*processor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.camera, f.raw = camera, raw
	if f.err != nil {
		return nil, f.err
	}
	return &processor.Result{LastResult: models.LastResult{CameraEntity: camera, Recognized: []string{"Alice"}}}, nil
}

type fakeCameras struct {
	scanned []string
}

func (f *fakeCameras) Cameras() []config.CameraConfig {
	return []config.CameraConfig{{Name: "front", SnapshotURL: "http://cam/front.jpg"}}
}

func (f *fakeCameras) Scan(_ context.Context, name string) (*processor.Result, error) {
	if name != "front" {
		return nil, fmt.Errorf("%w: %s", camera.ErrUnknownCamera, name)
	}
	f.scanned = append(f.scanned, name)
	idx := models.RecognitionIndex{}
	return &processor.Result{LastResult: models.LastResult{CameraEntity: name}, Index: &idx}, nil
}

type fakeGallery struct {
	enrolledName string
	enrolledImg  []byte
	deleteAll    int
}

func (f *fakeGallery) Refresh(context.Context) (models.FacesIndex, error) {
	return models.FacesIndex{Persons: map[string]models.PersonSummary{"Alice": {Count: 1}}}, nil
}

func (f *fakeGallery) Enroll(_ context.Context, img []byte, name string) (string, string, error) {
	clean, err := gallery.NormalizeName(name)
	if err != nil {
		return "", "", err
	}
	f.enrolledName, f.enrolledImg = clean, img
	return "face-1", clean, nil
}

func (f *fakeGallery) DeleteByID(_ context.Context, faceID string) (int, error) {
	return 1, nil
}

func (f *fakeGallery) DeleteByName(_ context.Context, name string) (int, error) {
	return 0, fmt.Errorf("%w for %s", gallery.ErrNotFound, name)
}

func (f *fakeGallery) DeleteAll(context.Context) (int, error) {
	f.deleteAll++
	return 3, nil
}

type fakeSelfTest struct{}

func (fakeSelfTest) Run(context.Context) rekognition.SelfTestResult {
	return rekognition.SelfTestResult{OK: true, Data: map[string]interface{}{"region": "eu-west-1"}}
}

type fakePool struct{}

func (fakePool) GetWorkerCount() int   { return 2 }
func (fakePool) ActiveJobCount() int   { return 0 }
func (fakePool) GetQueueCapacity() int { return 8 }

type testEnv struct {
	router    *gin.Engine
	api       *APIHandler
	publisher *state.Publisher
	hub       *sse.Hub
	frames    *fakeFrames
	cameras   *fakeCameras
	gallery   *fakeGallery
}

func newTestEnv(t *testing.T, opts RouterOptions, limiter *rate.Limiter) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := sse.NewHub()
	go hub.Run(ctx)
	loop := state.NewLoop()
	go loop.Run(ctx)
	pub := state.NewPublisher(loop, hub)

	env := &testEnv{
		publisher: pub,
		hub:       hub,
		frames:    &fakeFrames{},
		cameras:   &fakeCameras{},
		gallery:   &fakeGallery{},
	}
	deps := Dependencies{
		State:    pub,
		Events:   hub,
		Frames:   env.frames,
		Cameras:  env.cameras,
		Gallery:  env.gallery,
		SelfTest: fakeSelfTest{},
		Pool:     fakePool{},
		APICost:  func() float64 { return 0.001 },
	}
	if limiter != nil {
		deps.ScanLimit = middleware.RateLimit(limiter)
	}
	env.api = NewAPIHandler(deps)
	env.router = NewRouter(env.api, opts)
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func multipartBody(t *testing.T, fields map[string]string, file []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		part, err := mw.CreateFormFile("file", "face.jpg")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestGetIndexParsesAndClampsLimit(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, nil)
	idx := models.RecognitionIndex{UpdatedAt: "2024-05-01T10:00:00Z"}
	for i := 0; i < 30; i++ {
		idx.Items = append(idx.Items, models.RecognitionIndexEntry{File: fmt.Sprintf("recognition_%02d.jpg", i)})
	}
	env.publisher.Bootstrap(models.LastResult{}, idx)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/index", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], state.DefaultIndexLimit)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/index?limit=1000", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["items"], 30)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/index?limit=0", nil))
	assert.Len(t, decode(t, w)["items"], 1)

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/index?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetLastResultAndRequestID(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, nil)
	env.publisher.PublishUpdate(models.LastResult{File: "recognition_1.jpg", Recognized: []string{"Bob"}}, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/last_result", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "recognition_1.jpg", body["file"])
	assert.Equal(t, []any{"Bob"}, body["recognized"])
	assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
}

func TestScanUsesUploadedBody(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/scan/garden", bytes.NewReader([]byte("jpeg-bytes")))
	req.Header.Set("Content-Type", "image/jpeg")
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "garden", env.frames.camera)
	assert.Equal(t, []byte("jpeg-bytes"), env.frames.raw)
	body := decode(t, w)
	assert.Equal(t, false, body["index_updated"])
	assert.Equal(t, "garden", body["last_result"].(map[string]any)["camera_entity"])
	assert.Empty(t, env.cameras.scanned)
}

func TestScanUsesMultipartFile(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, nil)

	body, contentType := multipartBody(t, nil, []byte("png-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/scan/front", body)
	req.Header.Set("Content-Type", contentType)
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []byte("png-bytes"), env.frames.raw)
}

func TestScanFetchesCameraSnapshotWithoutBody(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, nil)

	w := env.do(httptest.NewRequest(http.MethodPost, "/api/scan/front", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"front"}, env.cameras.scanned)
	assert.Equal(t, true, decode(t, w)["index_updated"])

	w = env.do(httptest.NewRequest(http.MethodPost, "/api/scan/back", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScanErrorStatus(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"undecodable image": {err: fmt.Errorf("frame: %w", processor.ErrDecode), want: http.StatusUnprocessableEntity},
		"pool closed":       {err: processor.ErrPoolClosed, want: http.StatusServiceUnavailable},
		"upstream failure":  {err: errors.New("detect labels failed"), want: http.StatusBadGateway},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t, RouterOptions{}, nil)
			env.frames.err = tc.err
			w := env.do(httptest.NewRequest(http.MethodPost, "/api/scan/front", bytes.NewReader([]byte("x"))))
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestScanRateLimit(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, rate.NewLimiter(rate.Limit(0.001), 1))

	w := env.do(httptest.NewRequest(http.MethodPost, "/api/scan/front", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(httptest.NewRequest(http.MethodPost, "/api/scan/front", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestEnrollFace(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, nil)

	body, contentType := multipartBody(t, map[string]string{"name": " alice smith "}, []byte("face"))
	req := httptest.NewRequest(http.MethodPost, "/api/faces", body)
	req.Header.Set("Content-Type", contentType)
	w := env.do(req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, map[string]any{"face_id": "face-1", "name": "Alice_Smith"}, decode(t, w))
	assert.Equal(t, []byte("face"), env.gallery.enrolledImg)

	body, contentType = multipartBody(t, map[string]string{"name": "   "}, []byte("face"))
	req = httptest.NewRequest(http.MethodPost, "/api/faces", body)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)

	body, contentType = multipartBody(t, map[string]string{"name": "Bob"}, nil)
	req = httptest.NewRequest(http.MethodPost, "/api/faces", body)
	req.Header.Set("Content-Type", contentType)
	assert.Equal(t, http.StatusBadRequest, env.do(req).Code)
}

func TestDeleteFaces(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, nil)

	w := env.do(httptest.NewRequest(http.MethodDelete, "/api/faces", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, env.gallery.deleteAll)

	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/faces?confirm=true", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["deleted"])

	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/faces/id/abc", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(httptest.NewRequest(http.MethodDelete, "/api/faces/person/Nobody", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshFaces(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, nil)
	w := env.do(httptest.NewRequest(http.MethodPost, "/api/faces/refresh", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["persons"], "Alice")
}

func TestUsageAndStatus(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, nil)
	env.publisher.SetUsage(models.UsageCounters{Month: "2024-05", ScansMonth: 4, AWSCallsMonth: 2500})

	w := env.do(httptest.NewRequest(http.MethodGet, "/api/usage", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "2.50$", body["current_month_cost"])
	assert.EqualValues(t, 4, body["current_month_scans"])

	w = env.do(httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
	status := decode(t, w)
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, []any{"front"}, status["cameras"])
	assert.EqualValues(t, 2, status["system"].(map[string]any)["pool"].(map[string]any)["workers"])
}

func TestSelfTest(t *testing.T) {
	env := newTestEnv(t, RouterOptions{}, nil)
	w := env.do(httptest.NewRequest(http.MethodPost, "/api/selftest", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["ok"])
}

func TestSnapshotsAndMetricsAreServed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "recognition_latest.jpg"), []byte("img"), 0o644))
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("afr_frames_total 1\n"))
	})
	env := newTestEnv(t, RouterOptions{SnapshotDir: dir, SnapshotURL: "/snapshots", Metrics: metrics}, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/snapshots/recognition_latest.jpg", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "img", w.Body.String())

	w = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "afr_frames_total")
}
