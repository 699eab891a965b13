package weather

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/i474232898/globe-weather-grid/internal/common"
)

// DateLayout is the ISO date format used by query windows and daily series.
const DateLayout = "2006-01-02"

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown Condition = "unknown"
	ConditionClear   Condition = "clear"
	ConditionCloudy  Condition = "cloudy"
	ConditionFog     Condition = "fog"
	ConditionRain    Condition = "rain"
	ConditionSnow    Condition = "snow"
	ConditionStorm   Condition = "storm"
)

// DateWindow is the inclusive [Start, End] range of days a historical aggregate covers.
type DateWindow struct {
	Start string `json:"start" validate:"required,datetime=2006-01-02"`
	End   string `json:"end" validate:"required,datetime=2006-01-02"`
}

// Validate checks that both bounds parse and Start is not after End.
func (w DateWindow) Validate() error {
	start, err := time.Parse(DateLayout, w.Start)
	if err != nil {
		return fmt.Errorf("invalid window start %q: %w", w.Start, err)
	}
	end, err := time.Parse(DateLayout, w.End)
	if err != nil {
		return fmt.Errorf("invalid window end %q: %w", w.End, err)
	}
	if start.After(end) {
		return fmt.Errorf("window start %s is after end %s", w.Start, w.End)
	}
	return nil
}

// Aggregate is the summarized daily historical series for one cell over one window.
// The three series are index-aligned. Averages are derived from the series on demand
// and are never stored on their own.
type Aggregate struct {
	Temperatures   []float64 `json:"temperatures" msgpack:"t"`
	Precipitations []float64 `json:"precipitations" msgpack:"p"`
	Dates          []string  `json:"dates" msgpack:"d"`
}

// AvgTemperature is the mean daily temperature in °C, 0 when there is no data.
func (a *Aggregate) AvgTemperature() float64 {
	return common.Mean(a.Temperatures)
}

// AvgPrecipitation is the mean daily precipitation sum in mm, 0 when there is no data.
func (a *Aggregate) AvgPrecipitation() float64 {
	return common.Mean(a.Precipitations)
}

// MarshalJSON includes the derived averages for downstream consumers.
func (a Aggregate) MarshalJSON() ([]byte, error) {
	type series Aggregate
	return json.Marshal(struct {
		series
		AvgTemperature   float64 `json:"avgTemperature"`
		AvgPrecipitation float64 `json:"avgPrecipitation"`
	}{
		series:           series(a),
		AvgTemperature:   a.AvgTemperature(),
		AvgPrecipitation: a.AvgPrecipitation(),
	})
}

// Reading is a single provider's normalized current-conditions reading
// that can be combined into a Snapshot.
type Reading struct {
	ProviderName string    `json:"provider"`
	Timestamp    time.Time `json:"timestamp"`

	TemperatureC float64   `json:"temperatureC"`
	HumidityPct  float64   `json:"humidityPercent"`
	WindSpeedMS  float64   `json:"windSpeed"`
	PressureHpa  float64   `json:"pressureHpa"`
	PrecipMm     float64   `json:"precipMm"`
	Condition    Condition `json:"condition"`
}

// Snapshot is the combined current-conditions view at a point.
type Snapshot struct {
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Timestamp   time.Time `json:"timestamp"` // always UTC
	Temperature float64   `json:"temperatureC"`
	Humidity    float64   `json:"humidityPercent"`
	WindSpeed   float64   `json:"windSpeed"`
	Pressure    float64   `json:"pressureHpa"`
	PrecipMM    float64   `json:"precipMm"`
	Condition   Condition `json:"condition"`

	Providers []string `json:"providers,omitempty"`
}

// ForecastDay is one day of a multi-day forecast.
type ForecastDay struct {
	Date                    string    `json:"date"`
	Condition               Condition `json:"condition"`
	TemperatureMaxC         float64   `json:"temperatureMaxC"`
	TemperatureMinC         float64   `json:"temperatureMinC"`
	PrecipProbabilityMaxPct float64   `json:"precipProbabilityMaxPct"`
	WindSpeedMaxKmh         float64   `json:"windSpeedMaxKmh"`
	RelativeHumidityMaxPct  float64   `json:"relativeHumidityMaxPct"`
}

// Forecast is the current conditions plus daily outlook for a point,
// ordered by date ascending.
type Forecast struct {
	Lat     float64       `json:"lat"`
	Lng     float64       `json:"lng"`
	Current Reading       `json:"current"`
	Daily   []ForecastDay `json:"daily"`
}
