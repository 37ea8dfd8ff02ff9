// Package camera liefert Einzelbilder an die Verarbeitung: per Abruf der
// Snapshot-URL, periodisch oder ausgelöst über MQTT.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// maxSnapshotBytes begrenzt die Größe eines abgerufenen Bildes
const maxSnapshotBytes = 20 << 20

// ErrSnapshotTooLarge wird bei übergroßen Antworten geliefert
var ErrSnapshotTooLarge = errors.New("snapshot exceeds size limit")

// SnapshotClient lädt Einzelbilder über HTTP
type SnapshotClient struct {
	httpClient *http.Client
}

// NewSnapshotClient erstellt einen Client mit dem angegebenen Timeout
func NewSnapshotClient(timeout time.Duration) *SnapshotClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SnapshotClient{httpClient: &http.Client{Timeout: timeout}}
}

// Fetch lädt das Bild hinter url
func (c *SnapshotClient) Fetch(ctx context.Context, url string) ([]byte, error) {
	log.Debugf("Downloading snapshot from: %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot url: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download snapshot, status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) > maxSnapshotBytes {
		return nil, ErrSnapshotTooLarge
	}
	return data, nil
}
