package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMeters_IdenticalPointsIsZero(t *testing.T) {
	points := []Point{
		{Lat: 0, Lng: 0},
		{Lat: 51.507222, Lng: -0.1275},
		{Lat: -89.9, Lng: 179.9},
	}
	for _, p := range points {
		assert.Equal(t, 0.0, Distance(p, p))
	}
}

func TestDistanceMeters_Symmetric(t *testing.T) {
	pairs := [][2]Point{
		{{Lat: -6.2, Lng: 106.816}, {Lat: -6.9175, Lng: 107.6191}},
		{{Lat: 51.5, Lng: -0.12}, {Lat: 48.85, Lng: 2.35}},
		{{Lat: 10, Lng: 170}, {Lat: -10, Lng: -170}},
	}
	for _, pair := range pairs {
		assert.InDelta(t, Distance(pair[0], pair[1]), Distance(pair[1], pair[0]), 1e-6)
	}
}

func TestDistanceMeters_KnownDistances(t *testing.T) {
	// 0.001 degree of longitude on the equator
	d := DistanceMeters(0, 0, 0, 0.001)
	assert.InEpsilon(t, 111.195, d, 0.01)

	// Jakarta to Bandung is roughly 115-120 km
	d = DistanceMeters(-6.2, 106.816, -6.9175, 107.6191)
	assert.Greater(t, d, 100000.0)
	assert.Less(t, d, 140000.0)
}

func TestDistanceMeters_Antipodal(t *testing.T) {
	d := DistanceMeters(0, 0, 0, 180)
	assert.False(t, math.IsNaN(d))
	assert.InEpsilon(t, math.Pi*EarthRadiusMeters, d, 1e-9)

	d = DistanceMeters(90, 0, -90, 0)
	assert.InEpsilon(t, math.Pi*EarthRadiusMeters, d, 1e-9)
}

func TestInitialBearing(t *testing.T) {
	origin := Point{Lat: 0, Lng: 0}
	assert.InDelta(t, 0, InitialBearing(origin, Point{Lat: 1, Lng: 0}), 1e-9)
	assert.InDelta(t, 90, InitialBearing(origin, Point{Lat: 0, Lng: 1}), 1e-9)
	assert.InDelta(t, 180, InitialBearing(origin, Point{Lat: -1, Lng: 0}), 1e-9)
	assert.InDelta(t, 270, InitialBearing(origin, Point{Lat: 0, Lng: -1}), 1e-9)
}
