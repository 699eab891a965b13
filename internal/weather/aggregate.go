package weather

import (
	"time"

	"github.com/i474232898/globe-weather-grid/internal/common"
)

// NewAggregate builds an Aggregate from upstream daily series. Missing series
// become empty and null entries count as zero.
func NewAggregate(dates []string, temperatures, precipitations []*float64) *Aggregate {
	agg := &Aggregate{
		Temperatures:   derefSeries(temperatures),
		Precipitations: derefSeries(precipitations),
		Dates:          dates,
	}
	if agg.Dates == nil {
		agg.Dates = []string{}
	}
	return agg
}

func derefSeries(xs []*float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		if x != nil {
			out[i] = *x
		}
	}
	return out
}

// AggregateReadings combines multiple provider readings into a single Snapshot.
// Numeric fields are averaged; the condition is the most common one.
func AggregateReadings(lat, lng float64, readings []Reading) Snapshot {
	if len(readings) == 0 {
		return Snapshot{
			Lat:       lat,
			Lng:       lng,
			Timestamp: time.Now().UTC(),
			Condition: ConditionUnknown,
		}
	}

	var temps, humidity, wind, pressure, precip []float64
	conditionCounts := make(map[Condition]int)
	providers := make([]string, 0, len(readings))
	var newestTS time.Time

	for _, r := range readings {
		temps = append(temps, r.TemperatureC)
		humidity = append(humidity, r.HumidityPct)
		wind = append(wind, r.WindSpeedMS)
		pressure = append(pressure, r.PressureHpa)
		precip = append(precip, r.PrecipMm)

		conditionCounts[r.Condition]++
		if r.Timestamp.After(newestTS) {
			newestTS = r.Timestamp
		}
		providers = append(providers, r.ProviderName)
	}

	// Ties go to the reading that appears first.
	bestCond := ConditionUnknown
	bestCount := 0
	for _, r := range readings {
		if n := conditionCounts[r.Condition]; n > bestCount {
			bestCount = n
			bestCond = r.Condition
		}
	}

	if newestTS.IsZero() {
		newestTS = time.Now().UTC()
	}

	return Snapshot{
		Lat:         lat,
		Lng:         lng,
		Timestamp:   newestTS,
		Temperature: common.Mean(temps),
		Humidity:    common.Mean(humidity),
		WindSpeed:   common.Mean(wind),
		Pressure:    common.Mean(pressure),
		PrecipMM:    common.Mean(precip),
		Condition:   bestCond,
		Providers:   providers,
	}
}
