// Package tracking estimates per-class motion speed between frames.
package tracking

import (
	"image"
	"math"
	"sync"
	"time"
)

// MotionTracker keeps the last seen center and time for each track key and
// turns consecutive sightings into a pixels-per-second speed.
//
// Keys are class labels, not object identities: two objects of the same class
// in one frame overwrite each other's history and their speeds are meaningless.
// State is never evicted, so memory grows with the number of distinct labels.
type MotionTracker struct {
	mu     sync.Mutex
	states map[string]TrackState
}

// NewMotionTracker returns an empty tracker.
func NewMotionTracker() *MotionTracker {
	return &MotionTracker{states: make(map[string]TrackState)}
}

// Update records center at now for key and returns the speed since the key's
// previous sighting. The first sighting and any non-positive elapsed time give 0.
func (mt *MotionTracker) Update(key string, center image.Point, now time.Time) float64 {
	return mt.Observe(key, center, now).Speed
}

// Observe is Update with the intermediate distance and elapsed time exposed.
func (mt *MotionTracker) Observe(key string, center image.Point, now time.Time) Observation {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	obs := Observation{Key: key, Center: center, Time: now}

	prev, ok := mt.states[key]
	if !ok {
		obs.First = true
	} else {
		dx := float64(center.X - prev.LastCenter.X)
		dy := float64(center.Y - prev.LastCenter.Y)
		obs.Distance = math.Sqrt(dx*dx + dy*dy)
		obs.Elapsed = now.Sub(prev.LastTimestamp).Seconds()
		if obs.Elapsed > 0 {
			obs.Speed = obs.Distance / obs.Elapsed
		}
	}

	mt.states[key] = TrackState{LastCenter: center, LastTimestamp: now}
	return obs
}

// State returns the stored state for key.
func (mt *MotionTracker) State(key string) (TrackState, bool) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	s, ok := mt.states[key]
	return s, ok
}

// Len returns the number of keys ever seen.
func (mt *MotionTracker) Len() int {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return len(mt.states)
}
