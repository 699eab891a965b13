package weather

import (
	"context"
)

// ArchiveProvider fetches daily historical series for a point over a window.
type ArchiveProvider interface {
	FetchDaily(ctx context.Context, lat, lng float64, window DateWindow) (*Aggregate, error)
}

// Provider abstracts a current-conditions source (Open-Meteo, OpenWeatherMap, WeatherAPI).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, lat, lng float64) (Reading, error)
}

// ForecastProvider is implemented by providers that can return a multi-day forecast.
type ForecastProvider interface {
	FetchForecast(ctx context.Context, lat, lng float64, days int) (Forecast, error)
}

// Geocoder resolves a place name to coordinates.
type Geocoder interface {
	Locate(ctx context.Context, city, country string) (lat, lng float64, err error)
}
