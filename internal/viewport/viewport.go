package viewport

import (
	"sync"

	"github.com/rs/zerolog"
)

const (
	MinZoom = 1
	MaxZoom = 18
)

// Snapshot is a consistent copy of the viewport state.
type Snapshot struct {
	CenterLat      float64 `json:"center_lat"`
	CenterLng      float64 `json:"center_lng"`
	Zoom           int     `json:"zoom"`
	UserInteracted bool    `json:"user_interacted"`
	FollowUser     bool    `json:"follow_user"`
}

// Viewport holds the map center, zoom and follow-mode flags. It is mutated both by
// user interaction and by the position tracker, so every operation is atomic.
type Viewport struct {
	mu     sync.RWMutex
	state  Snapshot
	logger zerolog.Logger
}

// New creates a viewport centred on (lat, lng). Follow mode starts enabled.
func New(lat, lng float64, zoom int, logger zerolog.Logger) *Viewport {
	return &Viewport{
		state: Snapshot{
			CenterLat:  lat,
			CenterLng:  lng,
			Zoom:       clampZoom(zoom),
			FollowUser: true,
		},
		logger: logger,
	}
}

func clampZoom(z int) int {
	return max(MinZoom, min(z, MaxZoom))
}

func (v *Viewport) UpdateCenter(lat, lng float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.CenterLat = lat
	v.state.CenterLng = lng
}

// UpdateZoom sets the zoom level clamped to [MinZoom, MaxZoom] and returns the applied value.
func (v *Viewport) UpdateZoom(z int) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.Zoom = clampZoom(z)
	if v.state.Zoom != z {
		v.logger.Debug().Int("requested", z).Int("applied", v.state.Zoom).Msg("Zoom clamped")
	}
	return v.state.Zoom
}

func (v *Viewport) SetUserInteracted(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.UserInteracted = b
}

func (v *Viewport) SetFollowUser(b bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.FollowUser = b
}

// CenterOnUser recenters on the user and re-enables follow mode in one step, overriding
// any earlier manual pan.
func (v *Viewport) CenterOnUser(lat, lng float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state.CenterLat = lat
	v.state.CenterLng = lng
	v.state.UserInteracted = false
	v.state.FollowUser = true
}

// FollowPosition moves the center to a new position only while follow mode is on and
// the user has not panned away. It reports whether the center changed.
func (v *Viewport) FollowPosition(lat, lng float64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.state.FollowUser || v.state.UserInteracted {
		return false
	}
	if v.state.CenterLat == lat && v.state.CenterLng == lng {
		return false
	}
	v.state.CenterLat = lat
	v.state.CenterLng = lng
	return true
}

func (v *Viewport) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}
