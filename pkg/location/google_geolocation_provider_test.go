package location

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"
)

type mockGeolocator struct {
	mock.Mock
}

func (m *mockGeolocator) Geolocate(ctx context.Context, r *maps.GeolocationRequest) (*maps.GeolocationResult, error) {
	args := m.Called(ctx, r)
	res, _ := args.Get(0).(*maps.GeolocationResult)
	return res, args.Error(1)
}

const nmcliOutput = `AA\:BB\:CC\:DD\:EE\:FF:72
11\:22\:33\:44\:55\:66:40
not-a-mac:10
`

const mmcliOutput = `modem.location.3gpp.mcc : 262
modem.location.3gpp.mnc : 1
modem.location.3gpp.lac : 0000
modem.location.3gpp.tac : 00A1B2
modem.location.3gpp.cid : 01A2B3C4
`

func fakeRunner(outputs map[string]string) commandRunner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		out, ok := outputs[name]
		if !ok {
			return nil, errors.New(name + " not found")
		}
		return []byte(out), nil
	}
}

func TestParseNmcliWiFi(t *testing.T) {
	aps, err := parseNmcliWiFi(nmcliOutput)
	require.NoError(t, err)
	require.Len(t, aps, 2)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", aps[0].MACAddress)
	assert.Equal(t, 72.0, aps[0].SignalStrength)
	assert.Equal(t, "11:22:33:44:55:66", aps[1].MACAddress)
}

func TestParseMmcliCell(t *testing.T) {
	towers, err := parseMmcliCell(mmcliOutput)
	require.NoError(t, err)
	require.Len(t, towers, 1)
	assert.Equal(t, 262, towers[0].MobileCountryCode)
	assert.Equal(t, 1, towers[0].MobileNetworkCode)
	assert.Equal(t, 0xA1B2, towers[0].LocationAreaCode)
	assert.Equal(t, 0x01A2B3C4, towers[0].CellID)

	_, err = parseMmcliCell("modem.location.3gpp.cid : 01")
	assert.Error(t, err)
}

func TestGoogleGeolocationProvider_GetPosition(t *testing.T) {
	geo := new(mockGeolocator)
	geo.On("Geolocate", mock.Anything, mock.MatchedBy(func(r *maps.GeolocationRequest) bool {
		return r.ConsiderIP && len(r.WiFiAccessPoints) == 2 && len(r.CellTowers) == 1
	})).Return(&maps.GeolocationResult{
		Location: maps.LatLng{Lat: 52.52, Lng: 13.405},
		Accuracy: 35,
	}, nil)

	p := &GoogleGeolocationProvider{
		client: geo,
		run:    fakeRunner(map[string]string{"nmcli": nmcliOutput, "mmcli": mmcliOutput}),
		logger: zerolog.Nop(),
	}

	pos, err := p.GetPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 52.52, pos.Latitude)
	assert.Equal(t, 13.405, pos.Longitude)
	assert.Equal(t, 35.0, pos.Accuracy)
	geo.AssertExpectations(t)
}

func TestGoogleGeolocationProvider_DegradesWithoutRadios(t *testing.T) {
	geo := new(mockGeolocator)
	geo.On("Geolocate", mock.Anything, mock.MatchedBy(func(r *maps.GeolocationRequest) bool {
		return r.ConsiderIP && len(r.WiFiAccessPoints) == 0 && len(r.CellTowers) == 0
	})).Return(nil, errors.New("quota exceeded"))

	p := &GoogleGeolocationProvider{client: geo, run: fakeRunner(nil), logger: zerolog.Nop()}

	_, err := p.GetPosition(context.Background())
	assert.ErrorIs(t, err, ErrPositionUnavailable)
	geo.AssertExpectations(t)
}

func TestNewGoogleGeolocationProvider_RequiresKey(t *testing.T) {
	_, err := NewGoogleGeolocationProvider("", 0, zerolog.Nop())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestErrorCodeMessages(t *testing.T) {
	for _, code := range []ErrorCode{CodePermissionDenied, CodePositionUnavailable, CodeTimeout, CodeDeviceUnavailable} {
		assert.NotEmpty(t, code.Message())
		assert.NotContains(t, code.String(), "unknown")
	}

	wrapped := newPositionError(CodeTimeout, context.DeadlineExceeded)
	assert.ErrorIs(t, wrapped, ErrTimeout)
	assert.ErrorIs(t, wrapped, context.DeadlineExceeded)
	assert.NotErrorIs(t, wrapped, ErrPermissionDenied)
}
