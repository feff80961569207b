package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCachingGeocoder_ReusesNearbyLookups(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := NewMockGeocoder(ctrl)
	g := NewCachingGeocoder(next, 8, time.Hour)
	ctx := context.Background()

	want := []GeocodeResult{{Types: []string{"cafe"}}}
	next.EXPECT().ReverseGeocode(gomock.Any(), gomock.Any()).Return(want, nil).Times(1)

	got, err := g.ReverseGeocode(ctx, Coordinate{Latitude: 45.46421, Longitude: 9.19001})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = g.ReverseGeocode(ctx, Coordinate{Latitude: 45.46424, Longitude: 9.19004})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, g.Cache().Size())
}

func TestCachingGeocoder_DoesNotCacheErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := NewMockGeocoder(ctrl)
	g := NewCachingGeocoder(next, 8, time.Hour)
	ctx := context.Background()

	gomock.InOrder(
		next.EXPECT().ReverseGeocode(gomock.Any(), here).Return(nil, errors.New("timeout")),
		next.EXPECT().ReverseGeocode(gomock.Any(), here).Return(nil, nil),
	)

	_, err := g.ReverseGeocode(ctx, here)
	require.Error(t, err)

	got, err := g.ReverseGeocode(ctx, here)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 1, g.Cache().Size())
}
