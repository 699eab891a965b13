package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/globe-weather-grid/internal/fetch"
	"github.com/i474232898/globe-weather-grid/internal/geocell"
	"github.com/i474232898/globe-weather-grid/internal/globe"
	"github.com/i474232898/globe-weather-grid/internal/logger"
	"github.com/i474232898/globe-weather-grid/internal/preload"
	"github.com/i474232898/globe-weather-grid/internal/store"
	"github.com/i474232898/globe-weather-grid/internal/visibility"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

type stubArchive struct{}

func (stubArchive) FetchDaily(_ context.Context, _, _ float64, w weather.DateWindow) (*weather.Aggregate, error) {
	return &weather.Aggregate{
		Temperatures:   []float64{8, 12},
		Precipitations: []float64{4, 6},
		Dates:          []string{w.Start, w.End},
	}, nil
}

type stubProvider struct {
	err error
}

func (stubProvider) Name() string { return "stub" }

func (p stubProvider) Fetch(_ context.Context, lat, lng float64) (weather.Reading, error) {
	if p.err != nil {
		return weather.Reading{}, p.err
	}
	return weather.Reading{ProviderName: "stub", TemperatureC: 21, Condition: weather.ConditionClear, Timestamp: time.Now()}, nil
}

type stubForecaster struct{}

func (stubForecaster) FetchForecast(_ context.Context, lat, lng float64, days int) (weather.Forecast, error) {
	return weather.Forecast{Lat: lat, Lng: lng, Daily: make([]weather.ForecastDay, days)}, nil
}

type stubGeocoder struct{}

func (stubGeocoder) Locate(_ context.Context, city, _ string) (float64, float64, error) {
	if city == "Paris" {
		return 48.85, 2.35, nil
	}
	return 0, 0, errors.New("ZERO_RESULTS")
}

func newTestApp(t *testing.T, providers ...weather.Provider) (*fiber.App, *globe.Registry) {
	t.Helper()

	log := logger.Discard()
	reg := globe.NewRegistry(globe.Config{
		Archive: stubArchive{},
		Cache:   store.NewAggregateCache(store.NewMemoryMedium(), log),
		Fetch:   fetch.Options{MaxPerPass: 100000, Concurrency: 64, BatchDelay: -1},
	}, log, nil)
	t.Cleanup(reg.Close)

	svc := weather.NewService(providers, stubForecaster{}, stubGeocoder{}, log)
	pre := preload.New(svc, preload.Options{Capacity: 20}, log)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(log)})
	RegisterRoutes(app, Deps{Sessions: reg, Weather: svc, Preload: pre})
	return app, reg
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var out map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func columnMajor(m visibility.Matrix4) []float64 {
	out := make([]float64, 16)
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			out[col*4+row] = m[row][col]
		}
	}
	return out
}

func TestSessionFlow(t *testing.T) {
	app, reg := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/sessions", map[string]string{"start": "2024-01-01", "end": "2024-01-07"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)

	pos := geocell.LatLngToVector(40, -74, 4)
	vp := visibility.Perspective(75, 1, 0.1, 1000).PostMultiply(visibility.LookAt(pos, r3.Vector{}, r3.Vector{Y: 1}))
	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/camera", map[string]interface{}{
		"position":       []float64{pos.X, pos.Y, pos.Z},
		"viewProjection": columnMajor(vp),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, 2.0, body["cellSize"])
	assert.Contains(t, body["visible"], "40,-74@2")

	v, err := reg.Get(id)
	require.NoError(t, err)
	v.Wait()

	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/sessions/"+id+"/cells", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cells, _ := body["cells"].([]interface{})
	assert.NotEmpty(t, cells)

	p := geocell.LatLngToVector(41, -73, geocell.SurfaceRadius)
	resp, body = doJSON(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/pick", map[string]interface{}{
		"point": []float64{p.X, p.Y, p.Z},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "resolved", body["state"])
	cell := body["cell"].(map[string]interface{})
	assert.Equal(t, "40,-74@2", cell["id"])
	data := cell["data"].(map[string]interface{})
	assert.Equal(t, 10.0, data["avgTemperature"])
	assert.Equal(t, 5.0, data["avgPrecipitation"])

	resp, _ = doJSON(t, app, http.MethodPut, "/api/v1/sessions/"+id+"/window", map[string]string{"start": "2024-02-01", "end": "2024-02-07"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/sessions/"+id+"/cells", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, true, body["error"])
}

func TestSessionValidation(t *testing.T) {
	app, _ := newTestApp(t)

	resp, _ := doJSON(t, app, http.MethodPost, "/api/v1/sessions", map[string]string{"start": "2024-01-07", "end": "2024-01-01"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/sessions", map[string]string{"start": "yesterday"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, body := doJSON(t, app, http.MethodPost, "/api/v1/sessions", map[string]string{"start": "2024-01-01", "end": "2024-01-07"})
	id := body["id"].(string)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/camera", map[string]interface{}{
		"position":       []float64{0, 0, 4},
		"viewProjection": []float64{1, 0, 0},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/sessions/"+id+"/pick", map[string]interface{}{
		"point": []float64{0, 0, 1.01},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "no camera pass yet, so nothing to pick")
}

func TestCurrentWeather(t *testing.T) {
	app, _ := newTestApp(t, stubProvider{})

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/weather/current?lat=0&lng=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 21.0, body["temperatureC"])

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/weather/current?lat=95&lng=10", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/weather/current?lng=10", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCurrentWeatherUpstreamFailure(t *testing.T) {
	app, _ := newTestApp(t, stubProvider{err: errors.New("boom")})
	resp, _ := doJSON(t, app, http.MethodGet, "/api/v1/weather/current?lat=0&lng=0", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	app, _ = newTestApp(t)
	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/weather/current?lat=0&lng=0", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// TestForecastDaysValidation verifies that the forecast endpoint enforces the
// expected 1-7 range for the `days` query parameter.
func TestForecastDaysValidation(t *testing.T) {
	app, _ := newTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/api/v1/weather/forecast?city=Paris&country=FR", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 48.85, body["lat"])
	assert.Len(t, body["daily"], 7)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/weather/forecast?lat=1&lng=2&days=3", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	for _, q := range []string{"city=Paris&days=8", "city=Paris&days=0", "city=Paris&days=x", "lat=1", ""} {
		resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/weather/forecast?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/weather/forecast?city=Atlantis", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestPreload(t *testing.T) {
	app, _ := newTestApp(t, stubProvider{})

	resp, body := doJSON(t, app, http.MethodPost, "/api/v1/preload", map[string]float64{"north": 5, "south": 0, "east": 5, "west": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4.0, body["points"])
	assert.Equal(t, 4.0, body["loaded"])

	resp, body = doJSON(t, app, http.MethodGet, "/api/v1/preload/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4.0, body["entries"])

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/preload", map[string]float64{"north": 0, "south": 5, "east": 5, "west": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/api/v1/preload", map[string]float64{"north": 90, "south": -90, "east": 180, "west": -180})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
