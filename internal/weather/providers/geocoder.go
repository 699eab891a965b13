package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"
)

var errGeocoderNotConfigured = errors.New("geocoder api key is not configured")

// GoogleGeocoder resolves city names through the Google Maps geocoding API.
type GoogleGeocoder struct {
	// lookup is swapped out in tests.
	lookup func(geocoder.Address) (geocoder.Location, error)
}

// geocoder keeps its key in a package variable.
var setKeyOnce sync.Once

func NewGoogleGeocoder(apiKey string) (*GoogleGeocoder, error) {
	if apiKey == "" {
		return nil, errGeocoderNotConfigured
	}
	setKeyOnce.Do(func() { geocoder.ApiKey = apiKey })
	return &GoogleGeocoder{lookup: geocoder.Geocoding}, nil
}

// Locate returns the coordinates of city (optionally qualified by country).
// The underlying client takes no context, so cancellation abandons the call
// rather than aborting it.
func (g *GoogleGeocoder) Locate(ctx context.Context, city, country string) (float64, float64, error) {
	if city == "" {
		return 0, 0, fmt.Errorf("city is required")
	}

	type result struct {
		loc geocoder.Location
		err error
	}
	ch := make(chan result, 1)
	go func() {
		loc, err := g.lookup(geocoder.Address{City: city, Country: country})
		ch <- result{loc: loc, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return 0, 0, fmt.Errorf("geocode %s: %w", city, r.err)
		}
		return r.loc.Latitude, r.loc.Longitude, nil
	}
}
