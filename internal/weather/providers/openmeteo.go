package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/globe-weather-grid/internal/weather"
)

const (
	openMeteoForecastURL = "https://api.open-meteo.com/v1/forecast"

	openMeteoCurrentFields = "temperature_2m,relative_humidity_2m,surface_pressure,precipitation,wind_speed_10m,wind_direction_10m,weather_code"
	openMeteoDailyFields   = "weather_code,temperature_2m_max,temperature_2m_min,precipitation_probability_max,wind_speed_10m_max,relative_humidity_2m_max"

	// MaxForecastDays is the longest outlook Open-Meteo serves.
	MaxForecastDays = 16
)

// OpenMeteoProvider implements weather.Provider and weather.ForecastProvider
// on top of the Open-Meteo forecast API.
type OpenMeteoProvider struct {
	name    string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(client *http.Client, baseURL string) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = openMeteoForecastURL
	}
	return &OpenMeteoProvider{
		name:    "openmeteo",
		baseURL: baseURL,
		httpCfg: defaultHTTPConfig(client),
		circuit: newBreaker("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

type openMeteoCurrent struct {
	Time             string  `json:"time"`
	Temperature      float64 `json:"temperature_2m"`
	RelativeHumidity float64 `json:"relative_humidity_2m"`
	SurfacePressure  float64 `json:"surface_pressure"`
	Precipitation    float64 `json:"precipitation"`
	WindSpeed        float64 `json:"wind_speed_10m"` // km/h
	WeatherCode      int     `json:"weather_code"`
}

type openMeteoDaily struct {
	Time                []string   `json:"time"`
	WeatherCode         []*int     `json:"weather_code"`
	TemperatureMax      []*float64 `json:"temperature_2m_max"`
	TemperatureMin      []*float64 `json:"temperature_2m_min"`
	PrecipProbability   []*float64 `json:"precipitation_probability_max"`
	WindSpeedMax        []*float64 `json:"wind_speed_10m_max"`
	RelativeHumidityMax []*float64 `json:"relative_humidity_2m_max"`
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, lat, lng float64) (weather.Reading, error) {
	var payload struct {
		Current openMeteoCurrent `json:"current"`
	}
	if err := p.get(ctx, lat, lng, 0, &payload); err != nil {
		return weather.Reading{}, err
	}
	return p.reading(payload.Current), nil
}

// FetchForecast returns current conditions and a daily outlook of up to days days.
func (p *OpenMeteoProvider) FetchForecast(ctx context.Context, lat, lng float64, days int) (weather.Forecast, error) {
	if days <= 0 || days > MaxForecastDays {
		return weather.Forecast{}, fmt.Errorf("forecast days must be between 1 and %d, got %d", MaxForecastDays, days)
	}

	var payload struct {
		Current openMeteoCurrent `json:"current"`
		Daily   openMeteoDaily   `json:"daily"`
	}
	if err := p.get(ctx, lat, lng, days, &payload); err != nil {
		return weather.Forecast{}, err
	}

	d := payload.Daily
	out := weather.Forecast{
		Lat:     lat,
		Lng:     lng,
		Current: p.reading(payload.Current),
		Daily:   make([]weather.ForecastDay, 0, len(d.Time)),
	}
	for i, date := range d.Time {
		out.Daily = append(out.Daily, weather.ForecastDay{
			Date:                    date,
			Condition:               mapOpenMeteoCondition(valueAt(d.WeatherCode, i)),
			TemperatureMaxC:         valueAt(d.TemperatureMax, i),
			TemperatureMinC:         valueAt(d.TemperatureMin, i),
			PrecipProbabilityMaxPct: valueAt(d.PrecipProbability, i),
			WindSpeedMaxKmh:         valueAt(d.WindSpeedMax, i),
			RelativeHumidityMaxPct:  valueAt(d.RelativeHumidityMax, i),
		})
	}
	return out, nil
}

// get queries current conditions, plus the daily series when days > 0.
func (p *OpenMeteoProvider) get(ctx context.Context, lat, lng float64, days int, dst interface{}) error {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", formatCoord(lat))
		values.Set("longitude", formatCoord(lng))
		values.Set("current", openMeteoCurrentFields)
		values.Set("timezone", "UTC")
		if days > 0 {
			values.Set("daily", openMeteoDailyFields)
			values.Set("forecast_days", strconv.Itoa(days))
		}
		return http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode openmeteo response: %w", err)
	}
	return nil
}

func (p *OpenMeteoProvider) reading(c openMeteoCurrent) weather.Reading {
	// Open-Meteo reports ISO times without a zone; we asked for UTC.
	ts, err := time.Parse("2006-01-02T15:04", c.Time)
	if err != nil {
		ts = time.Now().UTC()
	}

	return weather.Reading{
		ProviderName: p.name,
		Timestamp:    ts.UTC(),
		TemperatureC: c.Temperature,
		HumidityPct:  c.RelativeHumidity,
		WindSpeedMS:  c.WindSpeed / 3.6,
		PressureHpa:  c.SurfacePressure,
		PrecipMm:     c.Precipitation,
		Condition:    mapOpenMeteoCondition(c.WeatherCode),
	}
}

func valueAt[T int | float64](xs []*T, i int) T {
	var zero T
	if i >= len(xs) || xs[i] == nil {
		return zero
	}
	return *xs[i]
}

func mapOpenMeteoCondition(code int) weather.Condition {
	// WMO weather interpretation codes.
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionFog
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}
