package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes exposes /ws/:kind. kinds maps each stream kind to the key of the
// caller's own stream, so a client can only follow its own hike or share.
func RegisterRoutes(r fiber.Router, hub *Hub, kinds map[string]func(accountID string) string, authMiddleware fiber.Handler) {
	r.Get("/ws/:kind", authMiddleware, func(c *fiber.Ctx) error {
		keyFn, ok := kinds[c.Params("kind")]
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "unknown stream")
		}
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		accountID, _ := c.Locals("account_id").(string)
		c.Locals("stream_key", keyFn(accountID))
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		key, _ := c.Locals("stream_key").(string)
		client := hub.Register(key)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
