package httpapi

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/trip-tracker/internal/snapshot"
)

const vehicleIDLocal = "vehicle_id"

// IngestClaims identifies the device posting locations
type IngestClaims struct {
	VehicleID string `json:"vehicle_id"`
	jwt.RegisteredClaims
}

// JWTMiddleware validates HS256 bearer tokens and stores the vehicle_id
// claim in locals.
func JWTMiddleware(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		parsed, err := jwt.ParseWithClaims(token, &IngestClaims{}, func(_ *jwt.Token) (interface{}, error) {
			return secretBytes, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		claims, ok := parsed.Claims.(*IngestClaims)
		if !ok || !parsed.Valid {
			return fiber.NewError(fiber.StatusUnauthorized, "token invalid")
		}
		if claims.VehicleID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "vehicle_id claim required")
		}

		c.Locals(vehicleIDLocal, claims.VehicleID)
		return c.Next()
	}
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

type ingestRequest struct {
	snapshot.Snapshot
	// Seq deduplicates device retries when present
	Seq *int64 `json:"seq,omitempty"`
}

func (s *Server) ingestLocation(c *fiber.Ctx) error {
	vehicleID, _ := c.Locals(vehicleIDLocal).(string)

	var req ingestRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if err := req.Validate(); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	ctx := c.UserContext()

	if req.Seq != nil {
		fresh, err := s.recorder.CheckIdempotency(ctx, vehicleID, *req.Seq)
		if err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		if !fresh {
			return c.JSON(fiber.Map{"status": "duplicate"})
		}
	}

	rec, err := s.recorder.Record(ctx, vehicleID, req.Sample(), time.Now())
	if err != nil {
		if req.Seq != nil {
			if relErr := s.recorder.ReleaseIdempotency(ctx, vehicleID, *req.Seq); relErr != nil {
				log.Error().Err(relErr).Str("vehicle_id", vehicleID).Int64("seq", *req.Seq).Msg("Failed to release idempotency key")
			}
		}
		if errors.Is(err, snapshot.ErrInvalid) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}

	log.Debug().
		Str("vehicle_id", vehicleID).
		Str("date", rec.Date).
		Msg("Location ingested")

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "recorded", "date": rec.Date})
}
