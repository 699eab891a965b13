package httpapi

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// coordQuery holds lat/lng query parameters.
type coordQuery struct {
	Lat *float64 `validate:"required,gte=-90,lte=90"`
	Lng *float64 `validate:"required,gte=-180,lte=180"`
}

func (q *coordQuery) bind(c *fiber.Ctx) error {
	var err error
	if q.Lat, err = parseFloatQuery(c, "lat"); err != nil {
		return err
	}
	if q.Lng, err = parseFloatQuery(c, "lng"); err != nil {
		return err
	}
	return validate.Struct(q)
}

// forecastQuery identifies a point either by coordinates or by city.
type forecastQuery struct {
	Lat     *float64 `validate:"omitempty,gte=-90,lte=90"`
	Lng     *float64 `validate:"omitempty,gte=-180,lte=180"`
	City    string
	Country string
	Days    int `validate:"gte=1,lte=7"`
}

func (q *forecastQuery) bind(c *fiber.Ctx) error {
	var err error
	if q.Lat, err = parseFloatQuery(c, "lat"); err != nil {
		return err
	}
	if q.Lng, err = parseFloatQuery(c, "lng"); err != nil {
		return err
	}
	if (q.Lat == nil) != (q.Lng == nil) {
		return errors.New("lat and lng must be given together")
	}
	q.City = c.Query("city")
	q.Country = c.Query("country")
	if q.Lat == nil && q.City == "" {
		return errors.New("either lat and lng or city is required")
	}

	q.Days = 7
	if v := c.Query("days"); v != "" {
		if q.Days, err = strconv.Atoi(v); err != nil {
			return errors.New("days must be an integer")
		}
	}
	return validate.Struct(q)
}

func parseFloatQuery(c *fiber.Ctx, key string) (*float64, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", key)
	}
	return &f, nil
}
