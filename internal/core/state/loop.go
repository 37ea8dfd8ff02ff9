// Package state hält den gemeinsamen Anwendungszustand. Er gehört einer einzigen
// Goroutine; andere Goroutinen übergeben Closures an die Schleife.
package state

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"aws-face-recognition-go/internal/core/models"
)

// ErrStopped wird geliefert, wenn die Schleife nicht mehr läuft
var ErrStopped = errors.New("state loop stopped")

// AppState ist der prozessweite Zustand
type AppState struct {
	LastResult models.LastResult
	Index      models.RecognitionIndex
	Usage      models.UsageCounters
	Faces      models.FacesIndex
}

// Loop führt übergebene Closures nacheinander auf einer Goroutine aus
type Loop struct {
	ops   chan func(*AppState)
	state AppState
	done  chan struct{}
}

// NewLoop erstellt eine Schleife mit leerem Zustand
func NewLoop() *Loop {
	return &Loop{
		ops: make(chan func(*AppState), 256),
		state: AppState{
			LastResult: models.LastResult{Recognized: []string{}, Objects: map[string]int{}},
			Index:      models.RecognitionIndex{Items: []models.RecognitionIndexEntry{}},
			Faces:      models.FacesIndex{Persons: map[string]models.PersonSummary{}},
		},
		done: make(chan struct{}),
	}
}

// Run verarbeitet Closures, bis ctx beendet wird. Bereits eingereihte Closures werden noch ausgeführt.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case fn := <-l.ops:
			l.apply(fn)
		case <-ctx.Done():
			for {
				select {
				case fn := <-l.ops:
					l.apply(fn)
				default:
					return
				}
			}
		}
	}
}

func (l *Loop) apply(fn func(*AppState)) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Recovered from panic in state update: %v", r)
		}
	}()
	fn(&l.state)
}

// Submit reiht eine Closure ein, ohne auf ihre Ausführung zu warten
func (l *Loop) Submit(fn func(*AppState)) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.ops <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Read führt fn auf der Schleife aus und wartet auf das Ende
func (l *Loop) Read(ctx context.Context, fn func(*AppState)) error {
	finished := make(chan struct{})
	if err := l.Submit(func(s *AppState) {
		defer close(finished)
		fn(s)
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// Die Closure kann noch beim Leeren der Warteschlange gelaufen sein
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}
