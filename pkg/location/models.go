package location

import (
	"time"

	"github.com/benmeehan/nav-core/pkg/geo"
)

// Position is a single fix reported by a device source.
// Optional fields are nil when the source could not provide them.
type Position struct {
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Accuracy         float64   `json:"accuracy"`                    // Horizontal accuracy in meters
	Altitude         *float64  `json:"altitude,omitempty"`          // Meters above mean sea level
	AltitudeAccuracy *float64  `json:"altitude_accuracy,omitempty"` // Meters
	Heading          *float64  `json:"heading,omitempty"`           // Degrees clockwise from true north, [0,360)
	Speed            *float64  `json:"speed,omitempty"`             // Meters per second
	Timestamp        time.Time `json:"timestamp"`                   // Capture time
}

// Point returns the coordinate part of the position.
func (p Position) Point() geo.Point {
	return geo.Point{Lat: p.Latitude, Lng: p.Longitude}
}

// WatchOptions configures how a source samples the device.
type WatchOptions struct {
	HighAccuracy bool          // Prefer precise fixes over fast ones
	Timeout      time.Duration // Max wait for a fix before a Timeout error; zero disables
	MaximumAge   time.Duration // Cached fixes younger than this may be reused; zero disables
}

// Float64 returns a pointer to v, for the optional Position fields.
func Float64(v float64) *float64 {
	return &v
}
