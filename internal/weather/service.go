package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/i474232898/globe-weather-grid/internal/logger"
)

var (
	// ErrNoProviders is returned when no provider is configured for a request.
	ErrNoProviders = errors.New("no weather providers configured")
	// ErrNoReadings is returned when every provider failed.
	ErrNoReadings = errors.New("no successful provider readings")
	// ErrNoGeocoder is returned by Locate when geocoding is not configured.
	ErrNoGeocoder = errors.New("geocoding is not configured")
)

// Service fans current-conditions requests out to providers and serves forecasts.
type Service struct {
	providers  []Provider
	forecaster ForecastProvider
	geocoder   Geocoder
	log        logger.Logger
}

// NewService creates a new Service. forecaster and geocoder may be nil.
func NewService(providers []Provider, forecaster ForecastProvider, geocoder Geocoder, log logger.Logger) *Service {
	return &Service{
		providers:  providers,
		forecaster: forecaster,
		geocoder:   geocoder,
		log:        log.WithField("component", "weather_service"),
	}
}

// Current fetches readings from all providers concurrently and combines the ones
// that succeeded.
func (s *Service) Current(ctx context.Context, lat, lng float64) (Snapshot, error) {
	if len(s.providers) == 0 {
		return Snapshot{}, ErrNoProviders
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		readings []Reading
	)

	for _, p := range s.providers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			r, err := p.Fetch(ctx, lat, lng)
			if err != nil {
				// Partial success is fine.
				s.log.WithError(err).Warnf("provider %s failed for %.2f,%.2f", p.Name(), lat, lng)
				return
			}

			mu.Lock()
			readings = append(readings, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(readings) == 0 {
		return Snapshot{}, ErrNoReadings
	}
	return AggregateReadings(lat, lng, readings), nil
}

// Forecast returns a daily forecast for the point.
func (s *Service) Forecast(ctx context.Context, lat, lng float64, days int) (Forecast, error) {
	if days <= 0 {
		return Forecast{}, fmt.Errorf("days must be greater than zero")
	}
	if s.forecaster == nil {
		return Forecast{}, ErrNoProviders
	}

	f, err := s.forecaster.FetchForecast(ctx, lat, lng, days)
	if err != nil {
		return Forecast{}, fmt.Errorf("forecast for %.2f,%.2f: %w", lat, lng, err)
	}
	return f, nil
}

// Locate resolves a city to coordinates through the configured geocoder.
func (s *Service) Locate(ctx context.Context, city, country string) (float64, float64, error) {
	if s.geocoder == nil {
		return 0, 0, ErrNoGeocoder
	}
	return s.geocoder.Locate(ctx, city, country)
}
