// Package httpapi is the HTTP surface the map client talks to: the current
// view, live and history controls, a websocket live stream and the
// authenticated location ingest endpoint.
package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/trip-tracker/internal/calculator"
	"github.com/stuartshay/trip-tracker/internal/config"
	"github.com/stuartshay/trip-tracker/internal/session"
	"github.com/stuartshay/trip-tracker/internal/store"
)

// Recorder persists ingested samples
type Recorder interface {
	Record(ctx context.Context, vehicleID string, sample calculator.GeoSample, receivedAt time.Time) (store.Recorded, error)
	CheckIdempotency(ctx context.Context, vehicleID string, seq int64) (bool, error)
	ReleaseIdempotency(ctx context.Context, vehicleID string, seq int64) error
}

// Server holds the fiber app and what its handlers need
type Server struct {
	App      *fiber.App
	cfg      *config.Config
	tracker  *session.Tracker
	feed     session.LiveFeed
	recorder Recorder
	center   calculator.LatLng
}

// NewServer builds the fiber app and registers every route
func NewServer(cfg *config.Config, tracker *session.Tracker, feed session.LiveFeed, recorder Recorder) *Server {
	app := fiber.New(fiber.Config{
		AppName:               cfg.ServiceName,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:      app,
		cfg:      cfg,
		tracker:  tracker,
		feed:     feed,
		recorder: recorder,
		center:   calculator.LatLng{cfg.MapCenterLatitude, cfg.MapCenterLongitude},
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.App.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "service": s.cfg.ServiceName})
	})

	api := s.App.Group("/api")
	api.Get("/view", s.getView)
	api.Post("/live/start", s.startLive)
	api.Post("/live/stop", s.stopLive)
	api.Post("/history/select", s.selectHistory)
	api.Get("/history/dates", s.listDates)
	api.Post("/history/:date", s.loadHistory)

	s.App.Get("/ws/live", s.liveSocket())

	s.App.Post("/ingest/location", JWTMiddleware(s.cfg.JWTSecret), s.ingestLocation)
}

// Listen serves HTTP on addr until Shutdown
func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.App.ShutdownWithTimeout(timeout)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
