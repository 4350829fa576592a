package tiles

import (
	"fmt"
	"strconv"
	"strings"
)

// Layer names a tile imagery source.
type Layer string

const (
	LayerStandard  Layer = "standard"
	LayerSatellite Layer = "satellite"
)

// MaxZoom is the deepest zoom level any supported provider serves.
const MaxZoom = 22

// DefaultURLTemplates maps each known layer to its tile URL template.
// Templates use {z}, {x} and {y} placeholders.
func DefaultURLTemplates() map[Layer]string {
	return map[Layer]string{
		LayerStandard:  "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
		LayerSatellite: "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}",
	}
}

// TileKey identifies one tile of one layer. It is comparable and used as the cache key.
type TileKey struct {
	Layer Layer
	Tile
}

// NewTileKey is shorthand for building a key from its parts.
func NewTileKey(layer Layer, zoom, x, y int) TileKey {
	return TileKey{Layer: layer, Tile: Tile{Zoom: zoom, X: x, Y: y}}
}

// String encodes the key as layer/z/x/y.
func (k TileKey) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Layer, k.Zoom, k.X, k.Y)
}

// Validate checks that the tile exists in the XYZ grid of its zoom level.
func (k TileKey) Validate() error {
	if k.Zoom < 0 || k.Zoom > MaxZoom {
		return fmt.Errorf("%w: zoom %d outside [0,%d]", ErrInvalidTile, k.Zoom, MaxZoom)
	}
	n := 1 << k.Zoom
	if k.X < 0 || k.X >= n || k.Y < 0 || k.Y >= n {
		return fmt.Errorf("%w: %s outside the %dx%d grid", ErrInvalidTile, k, n, n)
	}
	return nil
}

// BuildURL expands the template registered for the key's layer.
func BuildURL(templates map[Layer]string, k TileKey) (string, error) {
	tmpl, ok := templates[k.Layer]
	if !ok || tmpl == "" {
		return "", fmt.Errorf("%w: %q", ErrUnknownLayer, k.Layer)
	}
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(k.Zoom),
		"{x}", strconv.Itoa(k.X),
		"{y}", strconv.Itoa(k.Y),
	)
	return r.Replace(tmpl), nil
}
