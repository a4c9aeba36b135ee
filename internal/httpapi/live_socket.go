package httpapi

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/trip-tracker/internal/session"
)

type liveMessage struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	PathLength int     `json:"pathLength"`
}

// liveSocket streams accepted live positions. Every connection follows the
// feed on its own and ends when the client disconnects.
func (s *Server) liveSocket() fiber.Handler {
	upgrade := websocket.New(func(c *websocket.Conn) {
		vehicleID := c.Query("vehicle", s.cfg.VehicleID)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		updates, err := session.Follow(ctx, s.feed, vehicleID)
		if err != nil {
			log.Error().Err(err).Str("vehicle_id", vehicleID).Msg("Failed to follow live feed")
			_ = c.WriteJSON(fiber.Map{"error": "live feed unavailable"})
			return
		}

		go func() {
			defer cancel()
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for update := range updates {
			msg := liveMessage{
				Lat:        update.Position.Lat(),
				Lng:        update.Position.Lng(),
				PathLength: update.PathLength,
			}
			if err := c.WriteJSON(msg); err != nil {
				return
			}
		}
	})

	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return upgrade(c)
	}
}
