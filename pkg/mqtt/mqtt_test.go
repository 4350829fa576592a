package mqtt

import (
	"errors"
	"strings"
	"testing"

	"github.com/benmeehan/nav-core/internal/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueClientID(t *testing.T) {
	a := UniqueClientID("navcore")
	b := UniqueClientID("navcore")
	assert.True(t, strings.HasPrefix(a, "navcore-"))
	assert.NotEqual(t, a, b)
}

func TestInitialize_RequiresBroker(t *testing.T) {
	s := NewMqttService(new(mocks.MockFileOperations), zerolog.Nop())
	assert.Error(t, s.Initialize(Options{ClientID: "navcore"}))
}

func TestTLSConfig_Errors(t *testing.T) {
	fileClient := new(mocks.MockFileOperations)
	fileClient.On("ReadFileRaw", "/missing.pem").Return(nil, errors.New("no such file"))
	fileClient.On("ReadFileRaw", "/garbage.pem").Return([]byte("not a certificate"), nil)

	s := NewMqttService(fileClient, zerolog.Nop())

	_, err := s.tlsConfig("/missing.pem")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read CA certificate")

	_, err = s.tlsConfig("/garbage.pem")
	assert.EqualError(t, err, "failed to append CA certificate")

	// no client yet: Disconnect is a no-op
	s.Disconnect(250)
	fileClient.AssertExpectations(t)
}
