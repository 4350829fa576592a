package location

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"googlemaps.github.io/maps"
)

type geolocator interface {
	Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error)
}

// GoogleGeolocationProvider estimates the position from nearby WiFi access points and
// cell towers using the Google Maps Geolocation API.
type GoogleGeolocationProvider struct {
	client     geolocator
	modemIndex int
	run        commandRunner
	logger     zerolog.Logger
}

// NewGoogleGeolocationProvider creates a new GoogleGeolocationProvider instance.
func NewGoogleGeolocationProvider(apiKey string, modemIndex int, logger zerolog.Logger) (*GoogleGeolocationProvider, error) {
	if apiKey == "" {
		return nil, newPositionError(CodeDeviceUnavailable, errors.New("google maps API key is empty"))
	}

	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &GoogleGeolocationProvider{
		client:     c,
		modemIndex: modemIndex,
		run:        execCommand,
		logger:     logger,
	}, nil
}

// GetPosition retrieves the device's position. Radio scan failures degrade to an IP based estimate.
func (g *GoogleGeolocationProvider) GetPosition(ctx context.Context) (Position, error) {
	req := &maps.GeolocationRequest{ConsiderIP: true}

	wifiAPs, err := scanWiFiAccessPoints(ctx, g.run)
	if err != nil {
		g.logger.Debug().Err(err).Msg("WiFi scan unavailable, continuing without access points")
	} else {
		req.WiFiAccessPoints = wifiAPs
	}

	cellTowers, err := scanCellTowers(ctx, g.run, g.modemIndex)
	if err != nil {
		g.logger.Debug().Err(err).Msg("Cell scan unavailable, continuing without cell towers")
	} else {
		req.CellTowers = cellTowers
	}

	resp, err := g.client.Geolocate(ctx, req)
	if err != nil {
		return Position{}, classify(ctx, err)
	}

	g.logger.Debug().
		Int("wifi_access_points", len(req.WiFiAccessPoints)).
		Int("cell_towers", len(req.CellTowers)).
		Float64("accuracy", resp.Accuracy).
		Msg("Geolocation resolved")

	return Position{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Accuracy:  resp.Accuracy,
	}, nil
}
