package tracking

import (
	"image"
	"time"
)

// TrackState is the last observation recorded for a track key
type TrackState struct {
	LastCenter    image.Point
	LastTimestamp time.Time
}

// Observation is one speed estimate returned to the caller, kept for overlay and logging
type Observation struct {
	Key      string
	Center   image.Point
	Time     time.Time
	Distance float64 // Pixels moved since the previous observation (0 on first sighting)
	Elapsed  float64 // Seconds since the previous observation (0 on first sighting)
	Speed    float64 // Pixels per second
	First    bool    // True when the key had no prior state
}
