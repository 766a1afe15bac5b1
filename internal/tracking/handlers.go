package tracking

import (
	"bytes"
	"errors"

	"backend-trailwatch/internal/export"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/", authMiddleware, func(c *fiber.Ctx) error {
		var req struct {
			TrailRef string `json:"trail_ref"`
		}
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		snap, err := svc.Start(accountID(c), req.TrailRef)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(snap)
	})

	r.Post("/pause", authMiddleware, func(c *fiber.Ctx) error {
		changed, snap, err := svc.Pause(accountID(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"changed": changed, "session": snap})
	})

	r.Post("/resume", authMiddleware, func(c *fiber.Ctx) error {
		changed, snap, err := svc.Resume(accountID(c))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"changed": changed, "session": snap})
	})

	r.Post("/stop", authMiddleware, func(c *fiber.Ctx) error {
		changed, snap, err := svc.Stop(c.Context(), accountID(c))
		if err != nil && !changed {
			return httpError(err)
		}
		status := fiber.StatusOK
		if err != nil {
			status = fiber.StatusInternalServerError
		}
		return c.Status(status).JSON(fiber.Map{"changed": changed, "session": snap})
	})

	r.Post("/checkpoint", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Checkpoint(c.Context(), accountID(c)); err != nil {
			return httpError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/current", authMiddleware, func(c *fiber.Ctx) error {
		return c.JSON(svc.Current(accountID(c)))
	})

	r.Get("/", authMiddleware, func(c *fiber.Ctx) error {
		records, err := svc.Records(c.Context(), accountID(c))
		if err != nil {
			return httpError(err)
		}
		summaries := make([]RecordSummary, len(records))
		for i, r := range records {
			summaries[i] = r.Summary()
		}
		return c.JSON(summaries)
	})

	r.Delete("/:id", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Delete(c.Context(), accountID(c), c.Params("id")); err != nil {
			return httpError(err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Get("/:id/export", authMiddleware, func(c *fiber.Ctx) error {
		format, err := export.ParseFormat(c.Query("format"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		var buf bytes.Buffer
		if err := svc.Export(c.Context(), accountID(c), c.Params("id"), format, &buf); err != nil {
			return httpError(err)
		}
		c.Set(fiber.HeaderContentType, format.ContentType())
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+c.Params("id")+"."+string(format)+`"`)
		return c.Send(buf.Bytes())
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionActive):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, ErrPermissionDenied):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}

func accountID(c *fiber.Ctx) string {
	id, _ := c.Locals("account_id").(string)
	return id
}
