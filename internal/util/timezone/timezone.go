package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// fileStampLayout ist das Zeitformat in Dateinamen gespeicherter Bilder
const fileStampLayout = "20060102_150405"

var (
	mu              sync.RWMutex
	currentLocation *time.Location
)

// Initialize setzt die Zeitzone. Ein leerer Name verwendet die TZ-Umgebungsvariable, sonst UTC.
func Initialize(name string) {
	tzName := name
	if tzName == "" {
		tzName = os.Getenv("TZ")
	}
	if tzName == "" {
		tzName = "UTC"
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Warnf("Failed to load timezone %s: %v. Falling back to UTC.", tzName, err)
		loc = time.UTC
	} else {
		log.Infof("Timezone initialized to %s", tzName)
	}

	mu.Lock()
	currentLocation = loc
	mu.Unlock()
}

// Location liefert die konfigurierte Zeitzone
func Location() *time.Location {
	mu.RLock()
	loc := currentLocation
	mu.RUnlock()
	if loc == nil {
		Initialize("")
		mu.RLock()
		loc = currentLocation
		mu.RUnlock()
	}
	return loc
}

// Now gibt die aktuelle Zeit in der konfigurierten Zeitzone zurück
func Now() time.Time {
	return time.Now().In(Location())
}

// Format formatiert ein time.Time-Objekt mit der konfigurierten Zeitzone
func Format(t time.Time, layout string) string {
	return t.In(Location()).Format(layout)
}

// ISO8601 formatiert ein time.Time-Objekt im ISO 8601-Format mit der konfigurierten Zeitzone
func ISO8601(t time.Time) string {
	return Format(t, time.RFC3339)
}

// FileStamp formatiert einen Zeitpunkt für Dateinamen (YYYYMMDD_HHMMSS, lokale Zeit)
func FileStamp(t time.Time) string {
	return Format(t, fileStampLayout)
}

// Month liefert den Monat im Format YYYY-MM in der konfigurierten Zeitzone
func Month(t time.Time) string {
	return Format(t, "2006-01")
}
