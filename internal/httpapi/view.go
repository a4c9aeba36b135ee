package httpapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/trip-tracker/internal/calculator"
	"github.com/stuartshay/trip-tracker/internal/report"
	"github.com/stuartshay/trip-tracker/internal/session"
	"github.com/stuartshay/trip-tracker/internal/store"
)

type metricsResponse struct {
	TotalDistanceKm float64        `json:"totalDistanceKm"`
	MaxSpeedKmh     float64        `json:"maxSpeedKmh"`
	AvgSpeedKmh     float64        `json:"avgSpeedKmh"`
	Display         report.Summary `json:"display"`
}

type viewResponse struct {
	Mode     string             `json:"mode"`
	Date     string             `json:"date,omitempty"`
	TripDate string             `json:"tripDate,omitempty"`
	Path     calculator.Path    `json:"path"`
	Current  *calculator.LatLng `json:"current,omitempty"`
	Start    *calculator.LatLng `json:"start,omitempty"`
	Center   calculator.LatLng  `json:"center"`
	Metrics  *metricsResponse   `json:"metrics,omitempty"`
}

func (s *Server) viewResponse(v session.View) viewResponse {
	resp := viewResponse{
		Mode:     v.Mode.String(),
		Date:     v.Date,
		TripDate: v.TripDate,
		Path:     v.Path,
		Current:  v.Current,
		Start:    v.Start,
		Center:   s.center,
	}
	if resp.Path == nil {
		resp.Path = calculator.Path{}
	}

	switch {
	case v.Current != nil:
		resp.Center = *v.Current
	case v.Start != nil:
		resp.Center = *v.Start
	case len(v.Path) > 0:
		resp.Center = v.Path[0]
	}

	if v.Metrics != nil {
		resp.Metrics = &metricsResponse{
			TotalDistanceKm: v.Metrics.TotalDistanceKm(),
			MaxSpeedKmh:     v.Metrics.MaxSpeedKmh,
			AvgSpeedKmh:     v.Metrics.AvgSpeedKmh,
			Display:         report.Summarize(*v.Metrics),
		}
	}
	return resp
}

func (s *Server) getView(c *fiber.Ctx) error {
	return c.JSON(s.viewResponse(s.tracker.View()))
}

func (s *Server) startLive(c *fiber.Ctx) error {
	if err := s.tracker.StartLive(c.UserContext()); err != nil {
		if errors.Is(err, session.ErrStale) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(s.viewResponse(s.tracker.View()))
}

func (s *Server) stopLive(c *fiber.Ctx) error {
	s.tracker.StopLive()
	return c.JSON(s.viewResponse(s.tracker.View()))
}

func (s *Server) selectHistory(c *fiber.Ctx) error {
	s.tracker.SelectHistory()
	return c.JSON(s.viewResponse(s.tracker.View()))
}

func (s *Server) listDates(c *fiber.Ctx) error {
	dates, err := s.tracker.Dates(c.UserContext())
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	if dates == nil {
		dates = []string{}
	}
	return c.JSON(fiber.Map{"vehicleId": s.tracker.VehicleID(), "dates": dates})
}

func (s *Server) loadHistory(c *fiber.Ctx) error {
	date := c.Params("date")
	if _, err := time.Parse(store.DateLayout, date); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "date must be YYYY-MM-DD")
	}

	view, err := s.tracker.LoadHistory(c.UserContext(), date)
	switch {
	case errors.Is(err, session.ErrUnknownDate):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrStale):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case err != nil:
		log.Error().Err(err).Str("date", date).Msg("History load failed")
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(s.viewResponse(view))
}
