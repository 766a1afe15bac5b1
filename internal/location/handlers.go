package location

import (
	"errors"
	"time"

	"backend-trailwatch/internal/track"

	"github.com/gofiber/fiber/v2"
)

type sampleRequest struct {
	track.TrackPoint
	BatteryLevel *float64 `json:"battery_level"`
}

func RegisterRoutes(r fiber.Router, registry *Registry, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req sampleRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.Lat < -90 || req.Lat > 90 || req.Lng < -180 || req.Lng > 180 {
			return fiber.NewError(fiber.StatusBadRequest, "lat/lng out of range")
		}
		if req.Timestamp.IsZero() {
			req.Timestamp = time.Now()
		}

		feed := registry.For(accountID(c))
		if req.BatteryLevel != nil {
			feed.ReportBattery(*req.BatteryLevel)
		}
		if err := feed.Report(req.TrackPoint); err != nil {
			switch {
			case errors.Is(err, ErrNotAuthorized):
				return fiber.NewError(fiber.StatusForbidden, err.Error())
			case errors.Is(err, ErrUpdatesStopped):
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	})

	r.Get("/authorization", authMiddleware, func(c *fiber.Ctx) error {
		feed := registry.For(accountID(c))
		return c.JSON(fiber.Map{
			"state":                feed.AuthorizationState(),
			"permission_requested": feed.PermissionRequested(),
			"updating":             feed.Updating(),
		})
	})

	r.Put("/authorization", authMiddleware, func(c *fiber.Ctx) error {
		var body struct {
			State AuthorizationState `json:"state"`
		}
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		feed := registry.For(accountID(c))
		if err := feed.SetAuthorization(body.State); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.JSON(fiber.Map{"state": feed.AuthorizationState()})
	})
}

func accountID(c *fiber.Ctx) string {
	id, _ := c.Locals("account_id").(string)
	return id
}
