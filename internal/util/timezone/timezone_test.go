package timezone

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
)

func TestFileStampUsesConfiguredZone(t *testing.T) {
	Initialize("Europe/Berlin")
	defer Initialize("UTC")

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	assert.Equal(t, "20240102_040405", FileStamp(ts))
	assert.Equal(t, "2024-01", Month(ts))
}

func TestInvalidZoneFallsBackToUTC(t *testing.T) {
	Initialize("Not/AZone")
	defer Initialize("UTC")

	assert.Equal(t, time.UTC, Location())
	assert.Equal(t, "2024-01-02T03:04:05Z", ISO8601(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}
