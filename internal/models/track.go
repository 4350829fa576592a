package models

import (
	"time"
)

// TrackPoint is one accepted position as published to telemetry consumers
type TrackPoint struct {
	SessionID      string    `json:"session_id"`
	ClientVersion  string    `json:"client_version"`
	Sequence       uint64    `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Accuracy       float64   `json:"accuracy"`
	Altitude       *float64  `json:"altitude,omitempty"`
	Speed          *float64  `json:"speed,omitempty"`
	Heading        *float64  `json:"heading,omitempty"`
	TotalDistanceM float64   `json:"total_distance_m"`
}
