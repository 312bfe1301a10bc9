package http

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"soulcrush/internal/refresh"
)

const streamHeartbeat = 15 * time.Second

// streamApplicationsHandler pushes every applied view as a server-sent
// event until the client goes away.
func streamApplicationsHandler(c *fiber.Ctx) error {
	ctrl := controller(c)
	logger := requestLogger(c)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		views, cancel := ctrl.Subscribe()
		defer cancel()

		ticker := time.NewTicker(streamHeartbeat)
		defer ticker.Stop()

		for {
			select {
			case view, ok := <-views:
				if !ok {
					return
				}
				if err := writeViewEvent(w, view); err != nil {
					logger.Debug("stream closed", "error", err)
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					logger.Debug("stream closed", "error", err)
					return
				}
			}
		}
	}))
	return nil
}

func streamEvent(view refresh.View) StreamEvent {
	ev := StreamEvent{State: view.State, Key: view.Key}
	switch view.State {
	case refresh.StateReady:
		ev.Applications = toItems(view.Applications)
	case refresh.StateFailed:
		if view.Err != nil {
			ev.Error = view.Err.Error()
		}
	}
	return ev
}

// writeViewEvent writes one "view" event and flushes it. The event id is
// the mutation total, so a reconnecting client can tell whether it
// missed anything.
func writeViewEvent(w *bufio.Writer, view refresh.View) error {
	data, err := json.Marshal(streamEvent(view))
	if err != nil {
		slog.Default().Error("encode stream event", "error", err)
		return nil
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: view\ndata: %s\n\n", view.Key.Total(), data); err != nil {
		return err
	}
	return w.Flush()
}
