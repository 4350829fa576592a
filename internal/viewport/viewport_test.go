package viewport

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestUpdateZoomClamps(t *testing.T) {
	v := New(0, 0, 12, zerolog.Nop())

	tests := []struct {
		in, want int
	}{
		{25, 18},
		{-3, 1},
		{0, 1},
		{1, 1},
		{18, 18},
		{14, 14},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, v.UpdateZoom(tt.in))
		assert.Equal(t, tt.want, v.Snapshot().Zoom)
	}
}

func TestNewClampsZoom(t *testing.T) {
	assert.Equal(t, MaxZoom, New(0, 0, 40, zerolog.Nop()).Snapshot().Zoom)
}

func TestCenterOnUserOverridesPriorState(t *testing.T) {
	for _, prior := range []struct{ interacted, follow bool }{
		{false, false}, {false, true}, {true, false}, {true, true},
	} {
		v := New(1, 1, 10, zerolog.Nop())
		v.SetUserInteracted(prior.interacted)
		v.SetFollowUser(prior.follow)

		v.CenterOnUser(48.1, 11.5)

		s := v.Snapshot()
		assert.True(t, s.FollowUser)
		assert.False(t, s.UserInteracted)
		assert.Equal(t, 48.1, s.CenterLat)
		assert.Equal(t, 11.5, s.CenterLng)
		assert.Equal(t, 10, s.Zoom)
	}
}

func TestFollowPosition(t *testing.T) {
	v := New(0, 0, 15, zerolog.Nop())

	assert.True(t, v.FollowPosition(1, 2))
	assert.False(t, v.FollowPosition(1, 2), "unchanged center")

	v.SetUserInteracted(true)
	assert.False(t, v.FollowPosition(3, 4))
	assert.Equal(t, 1.0, v.Snapshot().CenterLat)

	v.CenterOnUser(5, 6)
	assert.True(t, v.FollowPosition(7, 8))

	v.SetFollowUser(false)
	assert.False(t, v.FollowPosition(9, 9))
	assert.Equal(t, 7.0, v.Snapshot().CenterLat)
}

func TestUpdateCenterKeepsFlags(t *testing.T) {
	v := New(0, 0, 15, zerolog.Nop())
	v.SetUserInteracted(true)
	v.UpdateCenter(10, 20)

	s := v.Snapshot()
	assert.Equal(t, Snapshot{CenterLat: 10, CenterLng: 20, Zoom: 15, UserInteracted: true, FollowUser: true}, s)
}

func TestConcurrentMutationsStayConsistent(t *testing.T) {
	v := New(0, 0, 10, zerolog.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			v.SetUserInteracted(true)
			v.UpdateZoom(i)
		}()
		go func() {
			defer wg.Done()
			v.CenterOnUser(float64(i), float64(i))
		}()
	}
	wg.Wait()

	s := v.Snapshot()
	assert.Equal(t, s.CenterLat, s.CenterLng)
	assert.GreaterOrEqual(t, s.Zoom, MinZoom)
	assert.LessOrEqual(t, s.Zoom, MaxZoom)
}
