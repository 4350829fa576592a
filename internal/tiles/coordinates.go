package tiles

import (
	"image"
	"math"

	"github.com/benmeehan/nav-core/pkg/geo"
)

const (
	TileSize = 256
	// maxMercatorLat is where the Web Mercator projection is cut off.
	maxMercatorLat = 85.05112878
)

// Tile represents XYZ tile coordinates
type Tile struct {
	Zoom, X, Y int
}

// LatLngToTile converts geographical coordinates to the tile containing them
func LatLngToTile(p geo.Point, zoom int) Tile {
	lat := math.Max(-maxMercatorLat, math.Min(maxMercatorLat, p.Lat))
	latRad := lat * math.Pi / 180
	n := math.Pow(2, float64(zoom))
	x := int((p.Lng + 180.0) / 360.0 * n)
	y := int((1.0 - math.Log(math.Tan(latRad)+(1/math.Cos(latRad)))/math.Pi) / 2.0 * n)
	return ConstrainTile(Tile{Zoom: zoom, X: x, Y: y})
}

// TileToLatLng returns the north-west corner of the tile
func TileToLatLng(t Tile) geo.Point {
	n := math.Pow(2, float64(t.Zoom))
	lng := float64(t.X)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(t.Y)/n)))
	return geo.Point{Lat: latRad * 180.0 / math.Pi, Lng: lng}
}

// ConstrainTile clamps tile coordinates into the grid of its zoom level
func ConstrainTile(t Tile) Tile {
	maxTile := (1 << t.Zoom) - 1
	t.X = max(0, min(t.X, maxTile))
	t.Y = max(0, min(t.Y, maxTile))
	return t
}

// VisibleTiles lists the tiles covering a screen of the given size centred on center,
// with one buffer tile on each side. Tiles clamped onto the same grid cell are listed once.
func VisibleTiles(center geo.Point, zoom int, screen image.Point) []Tile {
	centerTile := LatLngToTile(center, zoom)
	tilesX := (screen.X / TileSize) + 2
	tilesY := (screen.Y / TileSize) + 2

	startX := centerTile.X - tilesX/2
	startY := centerTile.Y - tilesY/2

	seen := make(map[Tile]struct{}, tilesX*tilesY)
	visible := make([]Tile, 0, tilesX*tilesY)
	for x := startX; x < startX+tilesX; x++ {
		for y := startY; y < startY+tilesY; y++ {
			t := ConstrainTile(Tile{Zoom: zoom, X: x, Y: y})
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			visible = append(visible, t)
		}
	}
	return visible
}
