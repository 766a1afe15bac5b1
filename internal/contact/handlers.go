package contact

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req EmergencyContact
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "name required")
		}
		if !req.Reachable() {
			return fiber.NewError(fiber.StatusBadRequest, "phone or email required")
		}
		req.AccountID = accountID(c)
		contact, err := svc.Create(c.Context(), req)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusCreated).JSON(contact)
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		contacts, err := svc.List(c.Context(), accountID(c))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if contacts == nil {
			contacts = []EmergencyContact{}
		}
		return c.JSON(contacts)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		err := svc.Delete(c.Context(), accountID(c), c.Params("id"))
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func accountID(c *fiber.Ctx) string {
	id, _ := c.Locals("account_id").(string)
	return id
}
