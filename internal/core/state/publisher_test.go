package state

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aws-face-recognition-go/internal/core/models"
	"aws-face-recognition-go/internal/server/sse"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recordingEvents) Broadcast(evt sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEvents) all() []sse.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sse.Event(nil), r.events...)
}

func startPublisher(t *testing.T) (*Publisher, *recordingEvents) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop()
	go loop.Run(ctx)
	t.Cleanup(cancel)
	events := &recordingEvents{}
	return NewPublisher(loop, events), events
}

func indexWith(n int) models.RecognitionIndex {
	idx := models.RecognitionIndex{UpdatedAt: "2024-01-02T03:04:05Z"}
	for i := 0; i < n; i++ {
		idx.Items = append(idx.Items, models.RecognitionIndexEntry{File: fmt.Sprintf("recognition_%03d.jpg", i)})
	}
	return idx
}

func TestPublishUpdateEmitsExactlyOneEvent(t *testing.T) {
	pub, events := startPublisher(t)
	ctx := context.Background()

	idx := indexWith(3)
	pub.PublishUpdate(models.LastResult{File: "recognition_000.jpg", Recognized: []string{"Alice"}}, &idx)

	last, err := pub.LastResult(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, last.Recognized)

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, sse.EventRecognitionUpdated, got[0].Type)
	payload := got[0].Data.(RecognitionUpdate)
	assert.Equal(t, "recognition_000.jpg", payload.LastResult.File)
	assert.Equal(t, "2024-01-02T03:04:05Z", payload.UpdatedAt)
}

func TestPublishUpdateWithoutIndexKeepsIndex(t *testing.T) {
	pub, events := startPublisher(t)
	ctx := context.Background()

	idx := indexWith(2)
	pub.Bootstrap(models.LastResult{}, idx)
	pub.PublishUpdate(models.LastResult{File: "recognition.jpg"}, nil)

	got, err := pub.Index(ctx, DefaultIndexLimit)
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
	assert.Len(t, events.all(), 1, "bootstrap does not notify")
}

func TestIndexLimitIsClamped(t *testing.T) {
	pub, _ := startPublisher(t)
	ctx := context.Background()
	idx := indexWith(600)
	pub.PublishUpdate(models.LastResult{}, &idx)

	tests := map[int]int{0: 1, -5: 1, 1: 1, 20: 20, 500: 500, 1000: 500}
	for limit, want := range tests {
		got, err := pub.Index(ctx, limit)
		require.NoError(t, err)
		assert.Len(t, got.Items, want, "limit %d", limit)
	}
}

func TestFacesUpdateReplacesWholesale(t *testing.T) {
	pub, events := startPublisher(t)
	ctx := context.Background()

	pub.PublishFacesUpdate(models.FacesIndex{Persons: map[string]models.PersonSummary{"Alice": {Count: 2}, "Bob": {Count: 1}}})
	pub.PublishFacesUpdate(models.FacesIndex{Persons: map[string]models.PersonSummary{"Carol": {Count: 3}}})

	faces, err := pub.FacesIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]models.PersonSummary{"Carol": {Count: 3}}, faces.Persons)

	got := events.all()
	require.Len(t, got, 2)
	assert.Equal(t, sse.EventFacesUpdated, got[1].Type)
}

func TestSetUsageDoesNotNotify(t *testing.T) {
	pub, events := startPublisher(t)
	pub.SetUsage(models.UsageCounters{Month: "2024-01", ScansMonth: 3})

	usage, err := pub.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, usage.ScansMonth)
	assert.Empty(t, events.all())
}

func TestConcurrentPublishersAreSerialized(t *testing.T) {
	pub, events := startPublisher(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pub.PublishUpdate(models.LastResult{CameraEntity: fmt.Sprintf("camera.%d", i)}, nil)
		}(i)
	}
	wg.Wait()

	snap, err := pub.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, snap.LastResult.CameraEntity)
	assert.Len(t, events.all(), 50)
}

func TestStoppedLoopRejectsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop()
	stopped := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	assert.ErrorIs(t, loop.Submit(func(*AppState) {}), ErrStopped)
	assert.ErrorIs(t, loop.Read(context.Background(), func(*AppState) {}), ErrStopped)
}

func TestPanicInClosureDoesNotStopLoop(t *testing.T) {
	pub, _ := startPublisher(t)
	require.NoError(t, pub.loop.Submit(func(*AppState) { panic("boom") }))

	_, err := pub.LastResult(context.Background())
	assert.NoError(t, err)
}
