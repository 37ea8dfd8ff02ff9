package processor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/internal/core/models"
)

// ErrPoolClosed wird geliefert, wenn der Pool bereits heruntergefahren wurde
var ErrPoolClosed = errors.New("worker pool is shut down")

// Publisher übernimmt das Ergebnis eines Frames in den gemeinsamen Zustand.
// Pro erfolgreichem Frame wird genau einmal veröffentlicht.
type Publisher interface {
	PublishUpdate(last models.LastResult, idx *models.RecognitionIndex)
}

// ScanRecorder zählt jeden angenommenen Frame
type ScanRecorder interface {
	RecordScan()
}

// FrameObserver wird nach jedem Frame mit Dauer und Fehler benachrichtigt
type FrameObserver interface {
	ObserveFrame(camera string, elapsed time.Duration, err error)
}

// WorkerPool verwaltet einen Pool von Worker-Goroutinen für die Bildverarbeitung.
// Frames derselben Kamera werden nacheinander verarbeitet, verschiedene Kameras parallel.
type WorkerPool struct {
	processor       *ImageProcessor
	publisher       Publisher
	scans           ScanRecorder
	observers       []FrameObserver
	jobs            chan *ProcessJob
	workerCount     int
	activeJobs      int
	activeJobsMutex sync.Mutex
	cameraSlots     map[string]chan struct{}
	cameraMutex     sync.Mutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	stopped         chan struct{}
	stoppedOnce     sync.Once
	wg              sync.WaitGroup
}

// ProcessJob repräsentiert einen Bildverarbeitungsjob
type ProcessJob struct {
	ctx      context.Context
	camera   string
	raw      []byte
	slot     chan struct{}
	resultCh chan *ProcessResult // Individueller Ergebniskanal pro Job
}

// ProcessResult enthält das Ergebnis der Bildverarbeitung
type ProcessResult struct {
	Result *Result
	Err    error
}

// NewWorkerPool erstellt einen neuen Worker-Pool. workers <= 0 wählt die Anzahl anhand der CPUs.
func NewWorkerPool(processor *ImageProcessor, publisher Publisher, workers int) *WorkerPool {
	workerCount := workers
	if workerCount <= 0 {
		// Container-bewusste Konfiguration: 75% der verfügbaren CPUs, mindestens 2
		workerCount = max(2, (runtime.NumCPU()*3)/4)
	}

	log.Infof("Initializing image processing worker pool with %d workers", workerCount)

	pool := &WorkerPool{
		processor:   processor,
		publisher:   publisher,
		jobs:        make(chan *ProcessJob, workerCount*2),
		workerCount: workerCount,
		cameraSlots: make(map[string]chan struct{}),
		shutdown:    make(chan struct{}),
		stopped:     make(chan struct{}),
	}
	pool.startWorkers()
	return pool
}

// SetScanRecorder setzt den Zähler für verarbeitete Frames
func (p *WorkerPool) SetScanRecorder(r ScanRecorder) {
	p.scans = r
}

// AddObserver registriert einen FrameObserver
func (p *WorkerPool) AddObserver(o FrameObserver) {
	p.observers = append(p.observers, o)
}

// Processor liefert den zugrunde liegenden Bildprozessor
func (p *WorkerPool) Processor() *ImageProcessor {
	return p.processor
}

func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			log.Debugf("Worker %d started", workerID)

			for {
				select {
				case job := <-p.jobs:
					p.run(workerID, job)
				case <-p.shutdown:
					log.Debugf("Worker %d received shutdown signal", workerID)
					p.drain(workerID)
					return
				}
			}
		}(i)
	}
}

// drain verarbeitet die noch eingereihten Jobs, damit deren Ergebnisse veröffentlicht werden
func (p *WorkerPool) drain(workerID int) {
	for {
		select {
		case job := <-p.jobs:
			p.run(workerID, job)
		default:
			return
		}
	}
}

// run verarbeitet einen Job. Der Kamera-Slot wurde beim Einreihen belegt und wird hier freigegeben.
func (p *WorkerPool) run(workerID int, job *ProcessJob) {
	defer func() { <-job.slot }()

	p.activeJobsMutex.Lock()
	p.activeJobs++
	jobCount := p.activeJobs
	p.activeJobsMutex.Unlock()

	log.Debugf("Worker %d processing frame from %s (active jobs: %d)", workerID, job.camera, jobCount)
	startTime := time.Now()

	if p.scans != nil {
		p.scans.RecordScan()
	}
	result, err := p.processor.Process(job.ctx, job.camera, job.raw)
	if err == nil && p.publisher != nil {
		// Veröffentlichung vor Freigabe des Slots erhält die Reihenfolge pro Kamera
		p.publisher.PublishUpdate(result.LastResult, result.Index)
	}

	p.activeJobsMutex.Lock()
	p.activeJobs--
	p.activeJobsMutex.Unlock()

	elapsed := time.Since(startTime)
	for _, o := range p.observers {
		o.ObserveFrame(job.camera, elapsed, err)
	}

	select {
	case job.resultCh <- &ProcessResult{Result: result, Err: err}:
	default:
		log.Warnf("Worker %d: Could not send result, channel might be closed", workerID)
	}
	log.Infof("Worker %d completed frame from %s in %v", workerID, job.camera, elapsed)
}

// cameraSlot liefert den Slot einer Kamera. Pro Kamera befindet sich höchstens ein Job
// in der Queue oder in Bearbeitung, weitere Frames warten außerhalb des Pools.
func (p *WorkerPool) cameraSlot(camera string) chan struct{} {
	p.cameraMutex.Lock()
	defer p.cameraMutex.Unlock()
	slot, ok := p.cameraSlots[camera]
	if !ok {
		slot = make(chan struct{}, 1)
		p.cameraSlots[camera] = slot
	}
	return slot
}

// ProcessImage reiht ein Kamerabild ein und wartet auf das Ergebnis
func (p *WorkerPool) ProcessImage(ctx context.Context, camera string, raw []byte) (*Result, error) {
	select {
	case <-p.shutdown:
		return nil, ErrPoolClosed
	default:
	}

	job := &ProcessJob{
		ctx:      ctx,
		camera:   camera,
		raw:      raw,
		slot:     p.cameraSlot(camera),
		resultCh: make(chan *ProcessResult, 1),
	}

	select {
	case job.slot <- struct{}{}:
	case <-p.shutdown:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Nach dem Einreihen gibt der Worker den Slot frei, auch wenn der Aufrufer nicht mehr wartet
	select {
	case p.jobs <- job:
	case <-p.shutdown:
		<-job.slot
		return nil, ErrPoolClosed
	case <-ctx.Done():
		<-job.slot
		return nil, ctx.Err()
	}

	select {
	case result := <-job.resultCh:
		return result.Result, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopped:
		select {
		case result := <-job.resultCh:
			return result.Result, result.Err
		default:
			return nil, ErrPoolClosed
		}
	}
}

// ActiveJobCount gibt die Anzahl der aktuell aktiven Jobs zurück
func (p *WorkerPool) ActiveJobCount() int {
	p.activeJobsMutex.Lock()
	defer p.activeJobsMutex.Unlock()
	return p.activeJobs
}

// GetWorkerCount gibt die Anzahl der Worker im Pool zurück
func (p *WorkerPool) GetWorkerCount() int {
	return p.workerCount
}

// GetQueueCapacity gibt die Kapazität der Job-Queue zurück
func (p *WorkerPool) GetQueueCapacity() int {
	return cap(p.jobs)
}

// Shutdown fährt den Worker-Pool herunter. Laufende und bereits eingereihte Frames werden noch verarbeitet.
func (p *WorkerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
	p.wg.Wait()
	p.stoppedOnce.Do(func() {
		close(p.stopped)
	})
}
