package enrich

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"
)

// GoogleGeocoder reverse geocodes through the Google Maps Geocoding API.
type GoogleGeocoder struct {
	client *maps.Client
}

func NewGoogleGeocoder(apiKey string, opts ...maps.ClientOption) (*GoogleGeocoder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("geocoding API key is required")
	}
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &GoogleGeocoder{client: client}, nil
}

func (g *GoogleGeocoder) ReverseGeocode(ctx context.Context, c Coordinate) ([]GeocodeResult, error) {
	res, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: c.Latitude, Lng: c.Longitude},
	})
	if err != nil {
		return classifyMapsError(err)
	}

	out := make([]GeocodeResult, 0, len(res))
	for _, r := range res {
		out = append(out, GeocodeResult{Types: r.Types, FormattedAddress: r.FormattedAddress})
	}
	return out, nil
}

// classifyMapsError maps API status errors ("maps: STATUS - message").
// Anything that is not a recognized status is treated as transport failure.
func classifyMapsError(err error) ([]GeocodeResult, error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "ZERO_RESULTS"):
		return nil, nil
	case strings.Contains(msg, "REQUEST_DENIED"), strings.Contains(msg, "INVALID_REQUEST"):
		return nil, fmt.Errorf("%w: %v", ErrGeocodeRejected, err)
	default:
		return nil, fmt.Errorf("reverse geocode: %w", err)
	}
}
