package timezone

import (
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	currentLocation *time.Location
	mu              sync.RWMutex
)

// Initialize sets the time zone used for audit timestamps.
// The TZ environment variable wins over the configured name; UTC is the fallback.
func Initialize(configured string) {
	tzName := "UTC"
	if configured != "" {
		tzName = configured
	}
	if envTZ := os.Getenv("TZ"); envTZ != "" {
		tzName = envTZ
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

// Location returns the configured location, UTC when Initialize was never called.
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	if currentLocation == nil {
		return time.UTC
	}
	return currentLocation
}

// Now returns the current time in the configured time zone
func Now() time.Time {
	return time.Now().In(Location())
}
