package events

import (
	"bufio"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
)

// KeepAliveInterval paces the comment frames that hold idle connections open
// through proxies.
const KeepAliveInterval = 15 * time.Second

var keepAliveFrame = []byte(": keep-alive\n\n")

// Stream attaches the response body to a new subscription of the user and
// writes frames until the client goes away. The subscription is torn down on
// the first failed write.
func (b *Bus) Stream(c *fiber.Ctx, userID uint) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := b.Register(userID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer b.Unregister(userID, sub)

		ticker := time.NewTicker(KeepAliveInterval)
		defer ticker.Stop()

		for {
			select {
			case frame := <-sub.Frames():
				if _, err := w.Write(frame); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := w.Write(keepAliveFrame); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}
