package sharing

import (
	"errors"

	"backend-trailwatch/internal/alert"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		snap, err := svc.Start(c.Context(), accountID(c))
		switch {
		case errors.Is(err, ErrSessionActive):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case errors.Is(err, ErrPermissionDenied):
			return fiber.NewError(fiber.StatusForbidden, err.Error())
		case err != nil && snap.State != StateActive:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(snap)
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		changed, snap, err := svc.Stop(c.Context(), accountID(c))
		if errors.Is(err, ErrNoSession) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		status := fiber.StatusOK
		if err != nil {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(fiber.Map{"changed": changed, "session": snap})
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		snap, err := svc.Current(c.Context(), accountID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(snap)
	})

	r.Post("/sos", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			Message string `json:"message"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		res, err := svc.SOS(c.Context(), accountID(c), req.Message)
		switch {
		case errors.Is(err, ErrNoPosition):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case errors.Is(err, ErrNoContacts):
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, alert.ErrDelivery):
			return c.Status(fiber.StatusBadGateway).JSON(res)
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(res)
	})
}

func accountID(c *fiber.Ctx) string {
	id, _ := c.Locals("account_id").(string)
	return id
}
