package httpapi

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang/geo/r3"

	"github.com/i474232898/globe-weather-grid/internal/globe"
	"github.com/i474232898/globe-weather-grid/internal/logger"
	"github.com/i474232898/globe-weather-grid/internal/preload"
	"github.com/i474232898/globe-weather-grid/internal/visibility"
	"github.com/i474232898/globe-weather-grid/internal/weather"
)

var validate = validator.New()

// Deps are the services the HTTP surface exposes. Preload may be nil.
type Deps struct {
	Sessions *globe.Registry
	Weather  *weather.Service
	Preload  *preload.Preloader
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	v1 := app.Group("/api/v1")

	sessions := v1.Group("/sessions")

	sessions.Post("/", func(c *fiber.Ctx) error {
		var w weather.DateWindow
		if err := bindJSON(c, &w); err != nil {
			return err
		}
		if err := w.Validate(); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		v, err := d.Sessions.Create(w)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":     v.ID(),
			"window": v.Window(),
		})
	})

	sessions.Delete("/:id", func(c *fiber.Ctx) error {
		if err := d.Sessions.Remove(c.Params("id")); err != nil {
			return sessionError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	sessions.Put("/:id/window", func(c *fiber.Ctx) error {
		v, err := d.Sessions.Get(c.Params("id"))
		if err != nil {
			return sessionError(err)
		}
		var w weather.DateWindow
		if err := bindJSON(c, &w); err != nil {
			return err
		}
		if err := v.SetWindow(w); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(fiber.Map{"window": v.Window()})
	})

	sessions.Post("/:id/camera", func(c *fiber.Ctx) error {
		v, err := d.Sessions.Get(c.Params("id"))
		if err != nil {
			return sessionError(err)
		}
		var req cameraRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		res := v.OnCamera(req.camera())
		if res.Visible == nil {
			res.Visible = []string{}
		}
		return c.JSON(res)
	})

	sessions.Get("/:id/cells", func(c *fiber.Ctx) error {
		v, err := d.Sessions.Get(c.Params("id"))
		if err != nil {
			return sessionError(err)
		}
		return c.JSON(v.Cells())
	})

	sessions.Post("/:id/pick", func(c *fiber.Ctx) error {
		v, err := d.Sessions.Get(c.Params("id"))
		if err != nil {
			return sessionError(err)
		}
		var req pickRequest
		if err := bindJSON(c, &req); err != nil {
			return err
		}
		cell, ok := v.Pick(r3.Vector{X: req.Point[0], Y: req.Point[1], Z: req.Point[2]})
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no cell at the picked point")
		}
		return c.JSON(fiber.Map{
			"cell":  cell,
			"state": cell.State(),
		})
	})

	v1.Get("/weather/current", func(c *fiber.Ctx) error {
		var q coordQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		snapshot, err := d.Weather.Current(c.UserContext(), *q.Lat, *q.Lng)
		if err != nil {
			return weatherError(err)
		}
		return c.JSON(snapshot)
	})

	v1.Get("/weather/forecast", func(c *fiber.Ctx) error {
		var q forecastQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		lat, lng := q.Lat, q.Lng
		if lat == nil {
			la, lo, err := d.Weather.Locate(c.UserContext(), q.City, q.Country)
			if err != nil {
				return weatherError(err)
			}
			lat, lng = &la, &lo
		}

		forecast, err := d.Weather.Forecast(c.UserContext(), *lat, *lng, q.Days)
		if err != nil {
			return weatherError(err)
		}
		return c.JSON(forecast)
	})

	v1.Post("/preload", func(c *fiber.Ctx) error {
		if d.Preload == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "preloading is not configured")
		}
		var b preload.Bounds
		if err := bindJSON(c, &b); err != nil {
			return err
		}
		res, err := d.Preload.PreloadRegion(c.UserContext(), b)
		if err != nil {
			if errors.Is(err, preload.ErrInvalidBounds) || errors.Is(err, preload.ErrRegionTooLarge) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return err
		}
		return c.JSON(res)
	})

	v1.Get("/preload/stats", func(c *fiber.Ctx) error {
		if d.Preload == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "preloading is not configured")
		}
		return c.JSON(d.Preload.Stats())
	})
}

// ErrorHandler renders every error as a JSON body and logs server-side failures.
func ErrorHandler(log logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			log.WithError(err).WithFields(map[string]interface{}{
				"method": c.Method(),
				"path":   c.Path(),
			}).Error("request failed")
		}
		return c.Status(code).JSON(fiber.Map{
			"error":   true,
			"message": err.Error(),
		})
	}
}

func sessionError(err error) error {
	if errors.Is(err, globe.ErrSessionNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return err
}

func weatherError(err error) error {
	switch {
	case errors.Is(err, weather.ErrNoProviders), errors.Is(err, weather.ErrNoGeocoder):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, weather.ErrNoReadings):
		return fiber.NewError(fiber.StatusBadGateway, "failed to fetch weather data")
	default:
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
}

// cameraRequest carries the renderer's camera state. Matrices are 16 floats
// in column-major order; a missing earthTransform means identity.
type cameraRequest struct {
	Position       []float64 `json:"position" validate:"required,len=3"`
	ViewProjection []float64 `json:"viewProjection" validate:"required,len=16"`
	EarthTransform []float64 `json:"earthTransform" validate:"omitempty,len=16"`
}

func (r cameraRequest) camera() visibility.Camera {
	cam := visibility.Camera{
		Position:       r3.Vector{X: r.Position[0], Y: r.Position[1], Z: r.Position[2]},
		ViewProjection: visibility.Matrix4FromColumnMajor([16]float64(r.ViewProjection)),
		EarthTransform: visibility.Identity4(),
	}
	if len(r.EarthTransform) == 16 {
		cam.EarthTransform = visibility.Matrix4FromColumnMajor([16]float64(r.EarthTransform))
	}
	return cam
}

type pickRequest struct {
	Point []float64 `json:"point" validate:"required,len=3"`
}

// bindJSON parses and validates a JSON body.
func bindJSON(c *fiber.Ctx, dst interface{}) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}
