// Package enrich attaches a location and a place category to expenses
// created on this device, then mirrors the result to the cloud when the
// expense belongs to a shared collection.
package enrich

//go:generate mockgen -source=enrich.go -destination=enrich_mock.go -package=enrich

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRetryable marks failures the job queue should redeliver.
	ErrRetryable = errors.New("retryable")

	ErrLocationUnavailable = errors.New("location unavailable")

	// ErrGeocodeRejected is returned when the geocoding service refuses the
	// request itself. Retrying cannot help.
	ErrGeocodeRejected = errors.New("geocode request rejected")
)

type Coordinate struct {
	Latitude  float64
	Longitude float64
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// GeocodeResult is one reverse geocoding match, most specific first.
type GeocodeResult struct {
	Types            []string
	FormattedAddress string
}

// Locator reports the device's current position.
type Locator interface {
	CurrentLocation(ctx context.Context) (Coordinate, error)
}

// Geocoder resolves a position to candidate places. No match is an empty
// result, not an error.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c Coordinate) ([]GeocodeResult, error)
}

func retryable(err error) error {
	if err == nil || errors.Is(err, ErrRetryable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// IsRetryable reports whether err should lead to redelivery of the job.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable)
}

// FixedLocator serves a configured position. Daemons have no sensor, so the
// position comes from configuration; without one every lookup fails.
type FixedLocator struct {
	coord *Coordinate
}

// NewFixedLocator returns a locator for lat/lon. Either being nil yields a
// locator that always reports ErrLocationUnavailable.
func NewFixedLocator(lat, lon *float64) *FixedLocator {
	if lat == nil || lon == nil {
		return &FixedLocator{}
	}
	return &FixedLocator{coord: &Coordinate{Latitude: *lat, Longitude: *lon}}
}

func (l *FixedLocator) CurrentLocation(ctx context.Context) (Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return Coordinate{}, err
	}
	if l.coord == nil {
		return Coordinate{}, ErrLocationUnavailable
	}
	return *l.coord, nil
}

// NoopGeocoder never finds a place. Used when no geocoding key is configured.
type NoopGeocoder struct{}

func (NoopGeocoder) ReverseGeocode(context.Context, Coordinate) ([]GeocodeResult, error) {
	return nil, nil
}
